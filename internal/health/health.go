// Package health tracks whether the wallet engine can serve: per-subsystem
// checks (database, snapshot worker) for the deep health endpoint, plus the
// process-level liveness and readiness gates the probes read.
package health

import (
	"context"
	"sync"
	"sync/atomic"
)

// Check reports whether one subsystem is serving. A nil error means healthy;
// the error text becomes the reported detail.
type Check func(ctx context.Context) error

// Result is the outcome of running a single subsystem check.
type Result struct {
	Subsystem string `json:"subsystem"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
}

// Registry holds the subsystem checks and the liveness/readiness gates.
// A new registry is live but not ready; the server flips readiness once
// its background workers are up and clears it again on shutdown.
type Registry struct {
	mu     sync.Mutex
	order  []string
	checks map[string]Check

	live  atomic.Bool
	ready atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{checks: make(map[string]Check)}
	r.live.Store(true)
	return r
}

// Register adds a subsystem check. Registering the same name again replaces
// the check but keeps its position.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.checks[name] = check
}

// Run executes every check in registration order and reports the aggregate
// health along with the per-subsystem results.
func (r *Registry) Run(ctx context.Context) (bool, []Result) {
	r.mu.Lock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	checks := make(map[string]Check, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.Unlock()

	healthy := true
	results := make([]Result, 0, len(names))
	for _, name := range names {
		res := Result{Subsystem: name, Healthy: true}
		if err := checks[name](ctx); err != nil {
			res.Healthy = false
			res.Detail = err.Error()
			healthy = false
		}
		results = append(results, res)
	}
	return healthy, results
}

// SetReady flips the readiness gate.
func (r *Registry) SetReady(ready bool) { r.ready.Store(ready) }

// Ready reports whether the process accepts traffic.
func (r *Registry) Ready() bool { return r.ready.Load() }

// SetLive flips the liveness gate.
func (r *Registry) SetLive(live bool) { r.live.Store(live) }

// Live reports whether the process should be kept running.
func (r *Registry) Live() bool { return r.live.Load() }
