// Package httpapi exposes the small, fixed set of HTTP surfaces spec.md
// §4.2 and §4.7 put alongside each service's bus subscription: liveness
// and readiness probes, instrumented with otelhttp. This is deliberately
// not a general API
// router — a fixed handful of routes never needs gin's routing tree (see
// DESIGN.md for why gin was dropped).
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/storyforge/pipeline/domain"
	"github.com/storyforge/pipeline/platform"
)

// ReadinessSource reports a service's current discovery/health snapshot,
// satisfied by *toolsvc.Service.DiscoveryInfo.
type ReadinessSource interface {
	DiscoveryInfo() domain.DiscoveryInfo
}

// Server serves /healthz (liveness: process is up) and /readyz
// (readiness: bus-connected and reporting healthy) for one service.
type Server struct {
	Name    string
	Source  ReadinessSource
	Logger  platform.Logger
	started time.Time
}

// NewServer constructs a Server for name, backed by src.
func NewServer(name string, src ReadinessSource, logger platform.Logger) *Server {
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	return &Server{Name: name, Source: src, Logger: logger, started: time.Now()}
}

// Handler returns the otelhttp-instrumented mux this server answers on.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)
	return otelhttp.NewHandler(mux, s.Name+".http")
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"service":        s.Name,
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	info := s.Source.DiscoveryInfo()
	status := http.StatusOK
	if info.ServiceHealth != domain.HealthHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"service":        s.Name,
		"health":         info.ServiceHealth,
		"tools":          len(info.AvailableTools),
		"uptime_seconds": info.UptimeSeconds,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
