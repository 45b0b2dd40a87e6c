// Package health runs registered dependency checks in parallel and serves
// liveness and readiness probes for the retrieval server. A searcher is
// ready once it serves a committed index generation; a broken query cache
// only degrades it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hover-retrieval/pkg/resilience"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the aggregate of every check; Status is the worst component
// status.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Checker holds the named checks of one server.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates an empty Checker whose checks each get two seconds.
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]Check),
		timeout: 2 * time.Second,
		logger:  slog.Default().With("component", "health"),
	}
}

// Add registers check under name, replacing any check of the same name.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently, each under the checker timeout. A
// check that overruns is reported down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	timeout := c.timeout
	c.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			result := check(cctx)
			if cctx.Err() != nil && result.Status == StatusUp {
				result = ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("check exceeded %v", timeout)}
			}
			result.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	report := Report{Status: StatusUp, Components: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if r.Status.rank() > report.Status.rank() {
			report.Status = r.Status
		}
	}
	return report
}

// Pinger is anything with a context-aware liveness probe, such as the Redis
// cache backend or the history database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p fails. When degradeOnly is set a failure is
// reported as degraded, for dependencies the server can run without.
func PingCheck(p Pinger, degradeOnly bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := p.Ping(ctx); err != nil {
			status := StatusDown
			if degradeOnly {
				status = StatusDegraded
			}
			return ComponentHealth{Status: status, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// GenerationCheck reports down until the index has a committed generation.
func GenerationCheck(generation func() uint64) Check {
	return func(context.Context) ComponentHealth {
		gen := generation()
		if gen == 0 {
			return ComponentHealth{Status: StatusDown, Message: "index has no committed generation"}
		}
		return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("generation %d", gen)}
	}
}

// BreakerCheck reports degraded while the circuit breaker is not closed.
func BreakerCheck(cb *resilience.CircuitBreaker) Check {
	return func(context.Context) ComponentHealth {
		snap := cb.Snapshot()
		if snap.State == resilience.StateClosed.String() {
			return ComponentHealth{Status: StatusUp}
		}
		msg := fmt.Sprintf("%s breaker %s after %d failures", cb.Name(), snap.State, snap.Failures)
		if snap.LastError != "" {
			msg += ": " + snap.LastError
		}
		return ComponentHealth{Status: StatusDegraded, Message: msg}
	}
}

// Register mounts GET /health/live and GET /health/ready on mux.
func (c *Checker) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/live", c.LiveHandler())
	mux.HandleFunc("GET /health/ready", c.ReadyHandler())
}

// LiveHandler answers 200 while the process can serve HTTP at all.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"alive"}` + "\n"))
	}
}

// ReadyHandler runs every check. Up and degraded answer 200 so a searcher
// without its cache stays in rotation; down answers 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if report.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			c.logger.Warn("writing readiness report failed", "error", err)
		}
		if report.Status != StatusUp {
			c.logger.Warn("not fully ready", "status", report.Status, "components", report.Components)
		}
	}
}
