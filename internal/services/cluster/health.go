package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// CheckFunc reports an error when a dependency is unhealthy.
type CheckFunc func(ctx context.Context) error

// HealthAggregator runs every registered check behind one endpoint.
type HealthAggregator struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthAggregator() *HealthAggregator {
	return &HealthAggregator{checks: make(map[string]CheckFunc)}
}

func (h *HealthAggregator) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes all checks concurrently and returns the failures by name.
func (h *HealthAggregator) Run(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = make(map[string]string)
	)
	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := check(ctx); err != nil {
				mu.Lock()
				failures[name] = err.Error()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failures
}

// Handler answers 200 when every check passes and 503 with the failures
// otherwise.
func (h *HealthAggregator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failures := h.Run(r.Context())
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(failures)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	}
}
