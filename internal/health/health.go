// Package health provides the HTTP health, provider status and metrics endpoints.
//
// Docker and Kubernetes use /healthz and /readyz to monitor the service's
// liveness. /providers reports each external provider independently so a
// degraded subsystem does not mask a full outage, and /metrics exposes the
// Prometheus registry.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Status is the reachability of one provider or of the whole service.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDown     Status = "down"
	StatusDisabled Status = "disabled"
	StatusDegraded Status = "degraded"
)

const checkTimeout = 5 * time.Second

// CheckFunc checks one provider.
type CheckFunc func(ctx context.Context) error

// Provider is a named provider check. A nil Check marks the provider disabled.
type Provider struct {
	Name  string
	Check CheckFunc
}

// ProviderStatus is the last observed state of one provider.
type ProviderStatus struct {
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the body of GET /providers.
type Report struct {
	Status    Status                    `json:"status"`
	Providers map[string]ProviderStatus `json:"providers"`
}

// Server exposes /healthz, /readyz, /providers and /metrics.
type Server struct {
	port     int
	ready    atomic.Bool
	checks   []Provider
	gatherer prometheus.Gatherer
	grpc     *grpchealth.Server
	server   *http.Server

	mu     sync.RWMutex
	status map[string]ProviderStatus
}

// New creates a health server. gatherer may be nil to use the default registry.
func New(port int, gatherer prometheus.Gatherer, checks ...Provider) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		port:     port,
		checks:   checks,
		gatherer: gatherer,
		status:   make(map[string]ProviderStatus, len(checks)),
	}
}

// SetReady marks the service as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	if s.grpc == nil {
		return
	}
	if ready {
		s.grpc.Resume()
	} else {
		s.grpc.Shutdown()
	}
}

// AttachGRPC mirrors check results into a gRPC health server. The empty
// service name carries the overall status.
func (s *Server) AttachGRPC(h *grpchealth.Server) {
	s.grpc = h
}

// Refresh runs every provider check once and records the results.
func (s *Server) Refresh(ctx context.Context) Report {
	results := make(map[string]ProviderStatus, len(s.checks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range s.checks {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			st := runCheck(ctx, p)
			mu.Lock()
			results[p.Name] = st
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	s.mu.Lock()
	s.status = results
	s.mu.Unlock()

	report := Report{Status: overall(results), Providers: results}
	s.publishGRPC(report)
	return report
}

func runCheck(ctx context.Context, p Provider) ProviderStatus {
	now := time.Now()
	if p.Check == nil {
		return ProviderStatus{Status: StatusDisabled, CheckedAt: now}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	err := p.Check(ctx)
	st := ProviderStatus{
		Status:    StatusOK,
		LatencyMs: time.Since(now).Milliseconds(),
		CheckedAt: now,
	}
	if err != nil {
		st.Status = StatusDown
		st.Error = err.Error()
		slog.Warn("provider check failed", "provider", p.Name, "error", err)
	}
	return st
}

// Report returns the last check results without running the checks.
func (s *Server) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	providers := make(map[string]ProviderStatus, len(s.status))
	for k, v := range s.status {
		providers[k] = v
	}
	return Report{Status: overall(providers), Providers: providers}
}

// overall is ok when every enabled provider is ok, down when none is, and
// degraded otherwise.
func overall(providers map[string]ProviderStatus) Status {
	var enabled, up int
	for _, p := range providers {
		if p.Status == StatusDisabled {
			continue
		}
		enabled++
		if p.Status == StatusOK {
			up++
		}
	}
	switch {
	case enabled == 0 || up == enabled:
		return StatusOK
	case up == 0:
		return StatusDown
	default:
		return StatusDegraded
	}
}

func (s *Server) publishGRPC(r Report) {
	if s.grpc == nil {
		return
	}
	names := make([]string, 0, len(r.Providers))
	for name := range r.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := healthpb.HealthCheckResponse_SERVING
		if r.Providers[name].Status == StatusDown {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.grpc.SetServingStatus(name, st)
	}
	overallStatus := healthpb.HealthCheckResponse_SERVING
	if r.Status == StatusDown {
		overallStatus = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.grpc.SetServingStatus("", overallStatus)
}

// Run checks immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /providers", func(w http.ResponseWriter, r *http.Request) {
		report := s.Report()
		if r.URL.Query().Get("refresh") == "true" {
			report = s.Refresh(r.Context())
		}
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe starts the health HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
