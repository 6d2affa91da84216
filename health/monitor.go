package health

import (
	"sort"
	"sync"
	"time"
)

// Checker is implemented by components that can report their own health.
type Checker interface {
	Health() Status
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func() Status

// Health calls f.
func (f CheckerFunc) Health() Status {
	return f()
}

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push statuses with Update or are polled through a
// registered Checker.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
	}
}

// Register polls c for the named component on every Get and AggregateHealth.
func (m *Monitor) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
	delete(m.statuses, name)
}

// Update stores a pushed status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	c, polled := m.checkers[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if polled {
		return m.poll(name, c), true
	}
	return status, exists
}

func (m *Monitor) poll(name string, c Checker) Status {
	status := c.Health()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checkers, name)
}

// Components returns the monitored component names in sorted order
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.checkers))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth returns the aggregated status of every monitored component
func (m *Monitor) AggregateHealth(systemName string) Status {
	subStatuses := make([]Status, 0)
	for _, name := range m.Components() {
		if status, ok := m.Get(name); ok {
			subStatuses = append(subStatuses, status)
		}
	}
	return Aggregate(systemName, subStatuses)
}
