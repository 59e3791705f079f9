package guestagent

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
)

// FunctionRuntimeConfig controls the write-code endpoint, present only on
// VMs booted from a function-VM template (model.TemplateFunction). A
// generic or container-VM guest agent runs with a zero-value
// FunctionRuntimeConfig and rejects POST /write-code.
type FunctionRuntimeConfig struct {
	// SourcePath is where the function's source is written.
	SourcePath string
	// ReloadCommand, if set, is exec'd after every write so the runtime
	// supervisor picks up the new source (e.g. "systemctl restart
	// fleetforge-function"). If empty, write-code only overwrites the
	// file and the caller is responsible for triggering a reload some
	// other way.
	ReloadCommand []string
}

// Server is the guest agent's HTTP surface (spec.md §4.7): a fixed set of
// routes matching the teacher's per-RPC handler methods on a shared Server
// receiver, translated from gRPC methods to echo handlers.
type Server struct {
	echo      *echo.Echo
	collector *Collector
	startedAt time.Time
	fnRuntime FunctionRuntimeConfig
}

func NewServer(collector *Collector, fnRuntime FunctionRuntimeConfig) *Server {
	s := &Server{
		echo:      echo.New(),
		collector: collector,
		startedAt: time.Now(),
		fnRuntime: fnRuntime,
	}
	s.echo.HideBanner = true
	s.echo.GET("/metrics", s.handleMetrics)
	s.echo.GET("/health", s.handleHealth)
	s.echo.POST("/network", s.handleNetwork)
	s.echo.POST("/write-code", s.handleWriteCode)
	return s
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(c echo.Context) error {
	m, err := s.collector.Snapshot()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleNetwork(c echo.Context) error {
	var cfg NetworkConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}
	if err := ConfigureNetwork(cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "configured"})
}

// writeCodeRequest is the body for the function-VM code-injection
// endpoint: new source plus an executable file mode.
type writeCodeRequest struct {
	Source string `json:"source"`
	Mode   uint32 `json:"mode"`
}

func (s *Server) handleWriteCode(c echo.Context) error {
	if s.fnRuntime.SourcePath == "" {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "write-code is only available on function-vm guests"})
	}

	var req writeCodeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}

	mode := os.FileMode(req.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(s.fnRuntime.SourcePath), 0o755); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("mkdir: %v", err)})
	}
	if err := os.WriteFile(s.fnRuntime.SourcePath, []byte(req.Source), mode); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("write source: %v", err)})
	}

	if len(s.fnRuntime.ReloadCommand) > 0 {
		cmd := exec.Command(s.fnRuntime.ReloadCommand[0], s.fnRuntime.ReloadCommand[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("reload runtime: %v: %s", err, out)})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
}
