// Package agentapi is the Agent's HTTP surface: the privileged host
// operations internal/hostexec performs, the Firecracker UDS proxy
// (internal/fcproxy), and the console/shell attach path, all gated by a
// Manager-issued Agent bearer token. Grounded on the teacher's
// internal/worker/http_server.go route-group-plus-JWT-middleware shape.
package agentapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/fleetforge/fleetforge/internal/agentinventory"
	"github.com/fleetforge/fleetforge/internal/auth"
	"github.com/fleetforge/fleetforge/internal/config"
	"github.com/fleetforge/fleetforge/internal/fcproxy"
	"github.com/fleetforge/fleetforge/internal/obsmetrics"
)

// Server is the per-host Agent process's HTTP API.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	inv  *agentinventory.DB
}

// Opts wires a Server's dependencies.
type Opts struct {
	Config    *config.Config
	Inventory *agentinventory.DB
	JWTIssuer *auth.JWTIssuer
}

// NewServer builds the Agent's route table. Every route under /v1,
// including /v1/vms/:id/shell/ws, requires an Agent bearer token scoped
// to this host; the shell endpoint is reached through the Manager's own
// proxy dial, which carries that bearer token, so it shares the group.
func NewServer(opts Opts) *Server {
	s := &Server{
		echo: echo.New(),
		cfg:  opts.Config,
		inv:  opts.Inventory,
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.Logger())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(obsmetrics.EchoMiddleware())

	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	s.echo.GET("/metrics", echo.WrapHandler(obsmetrics.Handler()))

	v1 := s.echo.Group("/v1")
	v1.Use(auth.AgentBearerMiddleware(opts.JWTIssuer))

	v1.POST("/networks/bridges", s.ensureBridge)
	v1.POST("/networks/taps", s.createTap)
	v1.DELETE("/networks/taps/:tapName", s.deleteTap)

	v1.POST("/vmm", s.spawn)
	v1.DELETE("/vmm/:unitName", s.stop)
	v1.POST("/vmm/metrics-fifo", s.prepareMetricsFifo)
	v1.Any("/vmm/:vm_id/fcapi/*", fcproxy.Handler(s.resolveSocket))

	v1.POST("/vms/storage", s.prepareStorage)
	v1.GET("/vms/storage", s.listStorageDirs)
	v1.DELETE("/vms/:id/storage", s.deleteStorage)
	v1.POST("/vms/credentials", s.injectCredentials)
	v1.GET("/vms/:id/shell/ws", s.shellWS)

	v1.POST("/volumes/mount", s.mount)
	v1.POST("/volumes/unmount", s.unmount)

	v1.GET("/inventory", s.inventory)

	return s
}

// resolveSocket backs fcproxy.Handler with this Agent's local inventory.
func (s *Server) resolveSocket(vmID string) (string, bool) {
	scope, ok, err := s.inv.Get(vmID)
	if err != nil || !ok {
		return "", false
	}
	return scope.APISocket, true
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Close() error {
	return s.echo.Close()
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
