package session

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// teardownAction is one registered cleanup step.
type teardownAction struct {
	name string
	fn   func() error
}

// teardownRegistry runs every registered action exactly once, in
// reverse registration order, aggregating failures instead of
// stopping at the first one. It is the single process-global
// cleanup point the outermost frame defers — no other component
// registers directly with the OS.
type teardownRegistry struct {
	mu      sync.Mutex
	actions []teardownAction
	ran     bool
	log     zerolog.Logger
}

func newTeardownRegistry(logger zerolog.Logger) *teardownRegistry {
	return &teardownRegistry{log: logger}
}

// add registers fn under name. Registration after Run has already
// executed is a no-op other than a warning log, since that would
// indicate teardown was reentered.
func (t *teardownRegistry) add(name string, fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran {
		t.log.Warn().Str("action", name).Msg("teardown action registered after drain already ran")
		return
	}
	t.actions = append(t.actions, teardownAction{name: name, fn: fn})
}

// run executes every registered action in reverse order exactly once.
// Calling run a second time is a no-op that returns nil.
func (t *teardownRegistry) run() error {
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return nil
	}
	t.ran = true
	actions := t.actions
	t.mu.Unlock()

	var result *multierror.Error
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		t.log.Debug().Str("action", a.name).Msg("running teardown action")
		if err := a.fn(); err != nil {
			t.log.Warn().Err(err).Str("action", a.name).Msg("teardown action failed")
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	return result.ErrorOrNil()
}
