package agentapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/hostexec"
)

var shellUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// shellWS joins the screen session Spawn wrapped the VM's Firecracker
// process in and bridges its PTY onto the inbound WebSocket, grounded on
// the teacher's ptyWebSocket (internal/api/pty.go): a reader goroutine
// copies PTY output to the socket, a second reads client input into the
// PTY, and a CloseMessage control frame is written once either side ends.
func (s *Server) shellWS(c echo.Context) error {
	vmID := c.Param("id")

	pty, cmd, err := hostexec.ConsoleAttach(vmID)
	if err != nil {
		return respondErr(c, apierr.Unreachable("attach console", err))
	}
	defer pty.Close()
	defer cmd.Process.Kill()

	ws, err := shellUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := pty.Read(buf)
			if n > 0 {
				if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if _, err := pty.Write(msg); err != nil {
				return
			}
		}
	}()

	<-done

	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return nil
}
