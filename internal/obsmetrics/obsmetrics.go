// Package obsmetrics exposes Prometheus metrics for the Manager and
// Agent: VM counts by state, reconcile loop health, and Agent call
// latency.
package obsmetrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VMsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetforge_vms_by_state",
			Help: "Number of VMs by observed state",
		},
		[]string{"observed"},
	)

	HostsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetforge_hosts_by_status",
			Help: "Number of hosts by derived health status",
		},
		[]string{"status"},
	)

	ReconcileLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetforge_reconcile_loop_duration_seconds",
			Help:    "Duration of one reconciler pass over all VMs",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ReconcileDriftHealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_reconcile_drift_healed_total",
			Help: "Total drift corrections applied by the reconciler",
		},
		[]string{"kind"},
	)

	ReconcileOrphansCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetforge_reconcile_orphans_cleaned_total",
			Help: "Total orphaned VMM scopes torn down by the orphan sweep",
		},
	)

	AgentCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetforge_agent_call_duration_seconds",
			Help:    "Latency of Manager-to-Agent HTTP calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"operation", "outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetforge_http_requests_total",
			Help: "Total HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	VMLifecycleStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetforge_vm_lifecycle_step_duration_seconds",
			Help:    "Duration of each pre-boot protocol step",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"step", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		VMsByState,
		HostsByStatus,
		ReconcileLoopDuration,
		ReconcileDriftHealed,
		ReconcileOrphansCleaned,
		AgentCallDuration,
		HTTPRequestsTotal,
		VMLifecycleStepDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware instruments every HTTP request with HTTPRequestsTotal.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()

			return err
		}
	}
}

// StartServer starts a standalone HTTP server serving /metrics.
func StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			// metrics are non-critical; failure here doesn't take down the process
		}
	}()
	return srv
}

// ObserveAgentCall records the duration of one Manager-to-Agent HTTP call.
func ObserveAgentCall(operation, outcome string, d time.Duration) {
	AgentCallDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}
