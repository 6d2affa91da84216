// Package component runs the pipeline's long-lived parts under one ordered
// lifecycle.
package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/daqstream/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates the component was added but not started
	StateCreated State = iota
	// StateStarted indicates the component is running
	StateStarted
	// StateStopped indicates the component was stopped
	StateStopped
	// StateFailed indicates Start or Stop returned an error
	StateFailed
)

// String returns a string representation of the component state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lifecycle is implemented by every managed component.
//   - Start(ctx) begins work; ctx bounds the component's lifetime.
//   - Stop(timeout) ends work, waiting at most timeout.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Funcs adapts a pair of functions to Lifecycle. Either may be nil.
type Funcs struct {
	OnStart func(ctx context.Context) error
	OnStop  func(timeout time.Duration) error
}

// Start implements Lifecycle
func (f Funcs) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

// Stop implements Lifecycle
func (f Funcs) Stop(timeout time.Duration) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(timeout)
}

type managed struct {
	name  string
	c     Lifecycle
	state State
}

// Manager starts components in the order they were added and stops them in
// reverse. Add producers last so they stop first.
type Manager struct {
	logger *slog.Logger
	// RollbackTimeout bounds each Stop issued when Start fails part way.
	RollbackTimeout time.Duration

	mu      sync.Mutex
	entries []*managed
	started bool
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "component-manager")
	}
	return &Manager{logger: logger, RollbackTimeout: 5 * time.Second}
}

// Add registers c under name. Names must be unique and components cannot be
// added once the manager has started.
func (m *Manager) Add(name string, c Lifecycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil component %q", errors.ErrMissingConfig, name),
			"Manager", "Add", "component validation")
	}
	if m.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Add", "add after start")
	}
	for _, e := range m.entries {
		if e.name == name {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate component %q", errors.ErrInvalidConfig, name),
				"Manager", "Add", "component validation")
		}
	}
	m.entries = append(m.entries, &managed{name: name, c: c})
	return nil
}

// Start starts every component in order. If one fails, the components
// already started are stopped in reverse and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	for i, e := range m.entries {
		if err := e.c.Start(ctx); err != nil {
			e.state = StateFailed
			m.logger.Error("Component failed to start", "name", e.name, "error", err)
			if rbErr := m.stopFrom(i-1, m.RollbackTimeout); rbErr != nil {
				m.logger.Warn("Rollback after failed start was incomplete", "error", rbErr)
			}
			return fmt.Errorf("start %s: %w", e.name, err)
		}
		e.state = StateStarted
		m.logger.Debug("Component started", "name", e.name)
	}
	m.started = true
	return nil
}

// Stop stops every started component in reverse order, each bounded by
// timeout. All errors are returned joined.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false
	return m.stopFrom(len(m.entries)-1, timeout)
}

// stopFrom stops entries[last] down to entries[0]. Requires m.mu.
func (m *Manager) stopFrom(last int, timeout time.Duration) error {
	var errs []error
	for i := last; i >= 0; i-- {
		e := m.entries[i]
		if e.state != StateStarted {
			continue
		}
		if err := e.c.Stop(timeout); err != nil {
			e.state = StateFailed
			errs = append(errs, fmt.Errorf("stop %s: %w", e.name, err))
			continue
		}
		e.state = StateStopped
		m.logger.Debug("Component stopped", "name", e.name)
	}
	return stderrors.Join(errs...)
}

// States returns the lifecycle state of every component by name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.entries))
	for _, e := range m.entries {
		states[e.name] = e.state
	}
	return states
}
