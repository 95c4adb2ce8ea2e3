package session

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_ForwardOnly(t *testing.T) {
	m := newStateMachine()
	assert.Equal(t, Starting, m.get())

	require.NoError(t, m.advance(Running))
	require.NoError(t, m.advance(Draining))
	require.NoError(t, m.advance(Exited))

	assert.Error(t, m.advance(Running), "moving backward must be rejected")
	assert.Error(t, m.advance(Exited), "re-entering the same state must be rejected")
}

func TestTeardownRegistry_ReverseOrderAndIdempotent(t *testing.T) {
	reg := newTeardownRegistry(zerolog.Nop())

	var order []string
	reg.add("first", func() error {
		order = append(order, "first")
		return nil
	})
	reg.add("second", func() error {
		order = append(order, "second")
		return nil
	})
	reg.add("third", func() error {
		order = append(order, "third")
		return nil
	})

	require.NoError(t, reg.run())
	assert.Equal(t, []string{"third", "second", "first"}, order)

	// Running again must not re-invoke any action.
	require.NoError(t, reg.run())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestTeardownRegistry_AggregatesFailures(t *testing.T) {
	reg := newTeardownRegistry(zerolog.Nop())
	reg.add("ok", func() error { return nil })
	reg.add("fails", func() error { return assert.AnError })

	err := reg.run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), assert.AnError.Error())
}

func TestParsePodEnv(t *testing.T) {
	raw := "FOO=1\nBAR=2=equals-in-value\nEMPTY=\n"
	got := parsePodEnv(raw)

	assert.Equal(t, "1", got["FOO"])
	assert.Equal(t, "2=equals-in-value", got["BAR"])
	assert.Equal(t, "", got["EMPTY"])
	assert.Len(t, got, 3)
}

func TestCrashReport_IncludesAllRequiredFields(t *testing.T) {
	report := newCrashReport([]string{"kubeshell", "--deployment", "web"}, "1.2.3", "v1.29.0", "tail of the log")
	rendered := report.String()

	for _, want := range []string{"kubeshell", "1.2.3", "v1.29.0", "tail of the log", "traceback"} {
		assert.True(t, strings.Contains(rendered, want), "expected report to contain %q", want)
	}
}
