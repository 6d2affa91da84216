package component

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/daqstream/errors"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) component(name string, startErr, stopErr error) Lifecycle {
	return Funcs{
		OnStart: func(context.Context) error {
			r.add("start " + name)
			return startErr
		},
		OnStop: func(time.Duration) error {
			r.add("stop " + name)
			return stopErr
		},
	}
}

func TestManager_StartsInOrderStopsInReverse(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil)
	require.NoError(t, m.Add("sink", rec.component("sink", nil, nil)))
	require.NoError(t, m.Add("cycle", rec.component("cycle", nil, nil)))
	require.NoError(t, m.Add("input", rec.component("input", nil, nil)))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateStarted, m.States()["cycle"])

	require.NoError(t, m.Stop(time.Second))
	require.NoError(t, m.Stop(time.Second))

	assert.Equal(t, []string{
		"start sink", "start cycle", "start input",
		"stop input", "stop cycle", "stop sink",
	}, rec.calls)
	assert.Equal(t, StateStopped, m.States()["sink"])
}

func TestManager_RollsBackOnStartFailure(t *testing.T) {
	rec := &recorder{}
	boom := stderrors.New("bind failed")

	m := NewManager(nil)
	require.NoError(t, m.Add("metrics", rec.component("metrics", nil, nil)))
	require.NoError(t, m.Add("sink", rec.component("sink", nil, nil)))
	require.NoError(t, m.Add("input", rec.component("input", boom, nil)))
	require.NoError(t, m.Add("never", rec.component("never", nil, nil)))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start input")

	assert.Equal(t, []string{
		"start metrics", "start sink", "start input",
		"stop sink", "stop metrics",
	}, rec.calls)

	states := m.States()
	assert.Equal(t, StateFailed, states["input"])
	assert.Equal(t, StateCreated, states["never"])

	// Nothing is left running.
	require.NoError(t, m.Stop(time.Second))
	assert.Len(t, rec.calls, 5)
}

func TestManager_StopJoinsErrors(t *testing.T) {
	rec := &recorder{}
	errA := stderrors.New("drain timeout")
	errB := stderrors.New("close failed")

	m := NewManager(nil)
	require.NoError(t, m.Add("a", rec.component("a", nil, errA)))
	require.NoError(t, m.Add("b", rec.component("b", nil, nil)))
	require.NoError(t, m.Add("c", rec.component("c", nil, errB)))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, StateFailed, m.States()["a"])
	assert.Equal(t, StateStopped, m.States()["b"])
}

func TestManager_AddValidation(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Add("a", Funcs{}))

	err := m.Add("a", Funcs{})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = m.Add("nil", nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, m.Start(context.Background()))
	err = m.Add("late", Funcs{})
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", StateCreated.String())
	assert.Equal(t, "started", StateStarted.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
