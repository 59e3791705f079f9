package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/pkg/model"
)

var shellUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// shellAgentTokenTTL is generous relative to a typical interactive shell
// session; the Agent connection is dialed once up front and held open
// for the session's whole lifetime, not reissued per message.
const shellAgentTokenTTL = 12 * time.Hour

// shellWS proxies a client WebSocket onto the owning Agent's console
// proxy for vm, which in turn attaches to the screen session Spawn
// wrapped the VM's Firecracker process in (internal/hostexec.Spawn).
// Grounded on the teacher's internal/api/pty.go bidirectional-copy
// idiom, adapted from a local PTY file to a second WebSocket leg since
// the PTY itself lives on the Agent host, not the Manager process.
func (s *Server) shellWS(c echo.Context) error {
	vm, err := s.vms.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondErr(c, err)
	}
	if vm.Observed != model.ObservedRunning {
		return respondErr(c, apierr.Precondition("vm must be running for a shell session"))
	}
	if vm.HostID == nil {
		return respondErr(c, apierr.Internal("vm has no assigned host", nil))
	}
	host, err := s.st.GetHost(c.Request().Context(), *vm.HostID)
	if err != nil {
		return respondErr(c, err)
	}

	agentToken, err := s.jwtIssuer.IssueAgentToken(host.ID, shellAgentTokenTTL)
	if err != nil {
		return respondErr(c, apierr.Internal("issue agent token", err))
	}

	agentURL := strings.Replace(host.Address, "http://", "ws://", 1)
	agentURL = strings.Replace(agentURL, "https://", "wss://", 1)
	agentURL += "/v1/vms/" + vm.ID + "/shell/ws"

	header := http.Header{"Authorization": []string{"Bearer " + agentToken}}
	agentConn, _, err := websocket.DefaultDialer.DialContext(c.Request().Context(), agentURL, header)
	if err != nil {
		return respondErr(c, apierr.Unreachable("dial agent console proxy", err))
	}
	defer agentConn.Close()

	clientConn, err := shellUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer clientConn.Close()

	done := make(chan struct{})
	go pumpWS(agentConn, clientConn, done)
	go pumpWS(clientConn, agentConn, done)
	<-done

	clientConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}

// pumpWS copies messages from src to dst until either side errors,
// signalling done exactly once so the caller's two goroutines don't both
// block waiting for each other to close.
func pumpWS(dst, src *websocket.Conn, done chan<- struct{}) {
	defer func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}()
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}
