// Package health runs named dependency checks (database, redis, background
// workers) for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds each check.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Ping adapts an error-returning probe (db.PingContext, redis Ping) into a Checker.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Running adapts a worker's liveness flag into a Checker.
func Running(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if !running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout overrides DefaultTimeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the aggregate health
// plus individual results in registration order. A checker that outlives the
// timeout is reported unhealthy.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func(i int, nc namedChecker) {
			defer wg.Done()
			statuses[i] = run(ctx, nc, timeout)
		}(i, nc)
	}
	wg.Wait()

	healthy = true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, nc namedChecker, timeout time.Duration) Status {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Status, 1)
	go func() { done <- nc.check(ctx) }()

	var s Status
	select {
	case s = <-done:
	case <-ctx.Done():
		s = Status{Healthy: false, Detail: "timed out"}
	}
	s.Name = nc.name
	s.LatencyMS = time.Since(start).Milliseconds()
	return s
}
