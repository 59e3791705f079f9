// Package fcproxy is the Agent's reverse proxy onto a VM's Firecracker API
// socket. The Manager never dials a VM's Unix socket directly — it talks
// to the Agent's HTTP API, which forwards the request onto the right UDS
// after canonicalizing and containment-checking the path.
package fcproxy

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fleetforge/fleetforge/internal/apierr"
)

// SocketResolver maps a VM ID to its Firecracker API socket path, and
// reports whether the VM is known to this Agent.
type SocketResolver func(vmID string) (socketPath string, ok bool)

const upstreamTimeout = 10 * time.Second

// Handler returns an echo.HandlerFunc that proxies requests for
// "/v1/vmm/:vm_id/fcapi/*" onto the resolved VM's Firecracker socket.
func Handler(resolve SocketResolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		vmID := c.Param("vm_id")
		socketPath, ok := resolve(vmID)
		if !ok {
			return apierr.NotFound("no vmm scope for vm " + vmID)
		}

		upstreamPath, ok := canonicalize(c.Param("*"))
		if !ok {
			return apierr.Validation("invalid upstream path")
		}

		req := c.Request().Clone(c.Request().Context())
		req.URL.Path = upstreamPath
		req.URL.RawPath = ""
		req.Host = "firecracker"

		ctx, cancel := context.WithTimeout(req.Context(), upstreamTimeout)
		defer cancel()
		req = req.WithContext(ctx)

		proxy := &httputil.ReverseProxy{
			Director: func(r *http.Request) {
				r.URL.Scheme = "http"
				r.URL.Host = "firecracker"
			},
			Transport: unixSocketTransport(socketPath),
			ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
				if ctx.Err() == context.DeadlineExceeded {
					apierr.Write(w, "", apierr.Unreachable("firecracker api timed out", err))
					return
				}
				apierr.Write(w, "", apierr.Unreachable("firecracker api unreachable", err))
			},
		}
		proxy.ServeHTTP(c.Response().Writer, req)
		return nil
	}
}

// canonicalize cleans an upstream path rooted at "/", so any ".."
// traversal is clamped at the root (e.g. "../../etc" becomes "/etc") and
// cannot escape the Firecracker API's flat path namespace.
func canonicalize(p string) (string, bool) {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}

func unixSocketTransport(socketPath string) http.RoundTripper {
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
}
