package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
	"github.com/fleetforge/fleetforge/internal/guestagent"
	"github.com/fleetforge/fleetforge/pkg/model"
)

var metricsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const metricsPushInterval = time.Second

// metricsFrame is one pushed sample. Guest is the guest agent's own
// /metrics response, polled directly over the VM's bridged IP. FCFlushed
// reports whether this tick's FlushMetrics call against Firecracker
// succeeded — the flushed sample itself lands in the VM's on-host
// metrics FIFO (tailed by operators out of band) rather than over this
// socket, since no Agent endpoint streams that FIFO back to the Manager.
type metricsFrame struct {
	Timestamp time.Time         `json:"timestamp"`
	Guest     *guestagent.Metrics `json:"guest,omitempty"`
	GuestErr  string            `json:"guest_error,omitempty"`
	FCFlushed bool              `json:"fc_flushed"`
}

// metricsWS pushes a combined guest+Firecracker metrics sample once per
// second until the client disconnects or the VM stops being observed
// running.
func (s *Server) metricsWS(c echo.Context) error {
	vmID := c.Param("id")
	vm, err := s.vms.Get(c.Request().Context(), vmID)
	if err != nil {
		return respondErr(c, err)
	}

	conn, err := metricsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(metricsPushInterval)
	defer ticker.Stop()

	httpClient := &http.Client{Timeout: 2 * time.Second}

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
			vm, err = s.vms.Get(c.Request().Context(), vmID)
			if err != nil || vm.Observed != model.ObservedRunning {
				return nil
			}

			frame := metricsFrame{Timestamp: time.Now()}
			if vm.GuestIP != nil {
				m, err := pollGuestMetrics(httpClient, *vm.GuestIP)
				if err != nil {
					frame.GuestErr = err.Error()
				} else {
					frame.Guest = m
				}
			}
			frame.FCFlushed = s.vms.FlushMetrics(c.Request().Context(), vmID) == nil

			if err := conn.WriteJSON(frame); err != nil {
				return nil
			}
		}
	}
}

func pollGuestMetrics(client *http.Client, guestIP string) (*guestagent.Metrics, error) {
	url := fmt.Sprintf("http://%s:%d/metrics", guestIP, guestagent.DefaultPort)
	resp, err := client.Get(url)
	if err != nil {
		return nil, apierr.Unreachable("poll guest metrics", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Upstream(fmt.Sprintf("guest agent returned %d", resp.StatusCode), "")
	}
	var m guestagent.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode guest metrics: %w", err)
	}
	return &m, nil
}
