// Herald - Real-time job progress event distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/herald

package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StatusType represents the overall health status.
type StatusType string

const (
	// StatusHealthy indicates all components are functioning normally.
	StatusHealthy StatusType = "healthy"
	// StatusDegraded indicates some components have issues but are still operational.
	StatusDegraded StatusType = "degraded"
	// StatusUnhealthy indicates at least one component is failing.
	StatusUnhealthy StatusType = "unhealthy"
)

// Config holds configuration for health checking.
type Config struct {
	// Timeout is the maximum time to wait for a single check.
	Timeout time.Duration
}

// DefaultConfig returns health check defaults.
func DefaultConfig() Config {
	return Config{Timeout: 2 * time.Second}
}

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Healthy   bool           `json:"healthy"`
	Degraded  bool           `json:"degraded,omitempty"`
	Name      string         `json:"name"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	LastCheck time.Time      `json:"last_check"`
	Details   map[string]any `json:"details,omitempty"`
}

// Checkable is implemented by components that support health checking.
type Checkable interface {
	HealthCheck(ctx context.Context) ComponentHealth
}

// CheckFunc adapts an error-returning probe into a Checkable.
type CheckFunc func(ctx context.Context) error

// HealthCheck implements Checkable.
func (f CheckFunc) HealthCheck(ctx context.Context) ComponentHealth {
	if err := f(ctx); err != nil {
		return ComponentHealth{Healthy: false, Error: err.Error()}
	}
	return ComponentHealth{Healthy: true}
}

// Overall is the aggregated health of all components.
type Overall struct {
	Healthy    bool                       `json:"healthy"`
	Status     StatusType                 `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Failing returns the names of unhealthy components, sorted.
func (o Overall) Failing() []string {
	var names []string
	for name, c := range o.Components {
		if !c.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Checker runs health checks for registered components.
type Checker struct {
	config     Config
	mu         sync.RWMutex
	components map[string]Checkable
}

// NewChecker creates a health checker.
func NewChecker(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Checker{
		config:     cfg,
		components: make(map[string]Checkable),
	}
}

// Register adds a component. A later registration under the same name replaces it.
func (h *Checker) Register(name string, component Checkable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = component
}

// Unregister removes a component.
func (h *Checker) Unregister(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.components, name)
}

// CheckAll runs every check in parallel, each bounded by the configured timeout.
func (h *Checker) CheckAll(ctx context.Context) Overall {
	h.mu.RLock()
	components := make(map[string]Checkable, len(h.components))
	for name, comp := range h.components {
		components[name] = comp
	}
	h.mu.RUnlock()

	overall := Overall{
		Healthy:    true,
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth, len(components)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, comp := range components {
		wg.Add(1)
		go func(name string, comp Checkable) {
			defer wg.Done()
			result := h.run(ctx, name, comp)

			mu.Lock()
			defer mu.Unlock()
			overall.Components[name] = result
			if !result.Healthy {
				overall.Healthy = false
				overall.Status = StatusUnhealthy
			} else if result.Degraded && overall.Status == StatusHealthy {
				overall.Status = StatusDegraded
			}
		}(name, comp)
	}
	wg.Wait()
	return overall
}

// Check runs the named component's check.
func (h *Checker) Check(ctx context.Context, name string) ComponentHealth {
	h.mu.RLock()
	comp, ok := h.components[name]
	h.mu.RUnlock()

	if !ok {
		return ComponentHealth{
			Name:      name,
			Healthy:   false,
			Error:     "component not found",
			LastCheck: time.Now(),
		}
	}
	return h.run(ctx, name, comp)
}

func (h *Checker) run(ctx context.Context, name string, comp Checkable) ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	resultCh := make(chan ComponentHealth, 1)
	go func() {
		result := comp.HealthCheck(checkCtx)
		result.Name = name
		result.LastCheck = time.Now()
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result
	case <-checkCtx.Done():
		return ComponentHealth{
			Name:      name,
			Healthy:   false,
			Error:     "health check timeout",
			LastCheck: time.Now(),
		}
	}
}
