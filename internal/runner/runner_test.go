package runner

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kubeshell/internal/errs"
)

func newTestRunner(buf *bytes.Buffer) *Runner {
	return New(buf, zerolog.Nop())
}

func TestRunAndWaitSuccess(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	err := r.RunAndWaitSuccess(context.Background(), []string{"true"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Running: true")
}

func TestRunAndWaitSuccess_NonZeroExit(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	err := r.RunAndWaitSuccess(context.Background(), []string{"false"})
	require.Error(t, err)

	var cmdErr *errs.ExternalCommandFailed
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 1, cmdErr.ExitCode)
}

func TestRunAndCaptureStdout(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	out, err := r.RunAndCaptureStdout(context.Background(), []string{"printf", "  hello world  "})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestSpawnBackground_AliveThenExits(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	proc, err := r.SpawnBackground(context.Background(), "sleeper", []string{"sleep", "0.2"})
	require.NoError(t, err)
	assert.True(t, proc.Alive())

	err = proc.Wait(2 * time.Second)
	require.NoError(t, err)
	assert.False(t, proc.Alive())
}

func TestSpawnBackground_ExitCode(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	proc, err := r.SpawnBackground(context.Background(), "exiter", []string{"sh", "-c", "exit 7"})
	require.NoError(t, err)
	require.NoError(t, proc.Wait(2*time.Second))
	assert.Equal(t, 7, proc.ExitCode())
}

func TestQuoteArgvRoundTrip(t *testing.T) {
	argv := []string{"ssh", "-o", "StrictHostKeyChecking=no", "root@localhost", "echo hi"}
	quoted := quoteArgv(argv)

	roundTripped, err := splitArgv(quoted)
	require.NoError(t, err)
	assert.Equal(t, argv, roundTripped)
}
