package scheduler

import (
	"sort"
	"sync"
	"time"
)

// ComponentStatus is the last known state of one component.
type ComponentStatus struct {
	Healthy     bool       `json:"healthy"`
	Message     string     `json:"message,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastCheck   time.Time  `json:"lastCheck"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
}

// Health tracks per-component status reported by refresh cycles and
// startup checks. It is safe for concurrent use.
type Health struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
	now        func() time.Time
}

// NewHealth creates an empty health tracker.
func NewHealth() *Health {
	return &Health{
		components: make(map[string]ComponentStatus),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetHealthy marks a component as healthy.
func (h *Health) SetHealthy(component, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	h.components[component] = ComponentStatus{
		Healthy:     true,
		Message:     message,
		LastCheck:   now,
		LastSuccess: &now,
	}
}

// SetUnhealthy marks a component as unhealthy. The last success time is kept.
func (h *Health) SetUnhealthy(component string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.components[component]
	status.Healthy = false
	status.Message = ""
	status.LastError = err.Error()
	status.LastCheck = h.now()
	h.components[component] = status
}

// Status returns the status of a component and whether it has reported.
func (h *Health) Status(component string) (ComponentStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, ok := h.components[component]
	return status, ok
}

// Statuses returns a copy of every component status.
func (h *Health) Statuses() map[string]ComponentStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]ComponentStatus, len(h.components))
	for name, status := range h.components {
		out[name] = status
	}
	return out
}

// Unhealthy returns the sorted names of failing components.
func (h *Health) Unhealthy() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var names []string
	for name, status := range h.components {
		if !status.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsOverallHealthy reports whether no component is failing.
func (h *Health) IsOverallHealthy() bool {
	return len(h.Unhealthy()) == 0
}
