// Package runner provides uniform launch/collect semantics for every
// external process the session spawns: kubectl, ssh, the port-forward
// and the SOCKS-wrapper. All three entry points close the child's
// stdin to an empty stream so nothing can block reading it, and write
// combined stdout+stderr to a single line-buffered log sink shared by
// the whole session.
package runner

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/kubeshell/internal/errs"
	"github.com/cuemby/kubeshell/internal/types"
)

// Runner launches and supervises child processes against a shared log
// sink.
type Runner struct {
	sink io.Writer
	log  zerolog.Logger
	mu   sync.Mutex // serializes "Running: <argv>" + flush ordering
}

// New returns a Runner that writes combined child output and launch
// records to sink.
func New(sink io.Writer, logger zerolog.Logger) *Runner {
	return &Runner{sink: sink, log: logger}
}

// quoteArgv renders argv the way a user could paste it back into a
// shell; it is the inverse of shlex.Split, which the tests use to
// round-trip logged lines back to an argument vector.
func quoteArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n'\"\\$`") {
			parts[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

func (r *Runner) logLaunch(argv []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := "Running: " + quoteArgv(argv) + "\n"
	_, _ = io.WriteString(r.sink, line)
	r.log.Debug().Strs("argv", argv).Msg("launching command")
}

// RunAndWaitSuccess runs argv to completion, streaming combined output
// to the log sink, and fails with ExternalCommandFailed if the exit
// status is non-zero.
func (r *Runner) RunAndWaitSuccess(ctx context.Context, argv []string) error {
	_, err := r.run(ctx, argv, false)
	return err
}

// RunAndCaptureStdout runs argv to completion and returns its trimmed
// stdout, failing the same way as RunAndWaitSuccess. Stderr is still
// streamed to the shared log sink, not captured.
func (r *Runner) RunAndCaptureStdout(ctx context.Context, argv []string) (string, error) {
	return r.run(ctx, argv, true)
}

func (r *Runner) run(ctx context.Context, argv []string, captureStdout bool) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("runner: empty argv")
	}
	r.logLaunch(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader("")

	var captured bytes.Buffer
	var tail lineTailWriter
	mw := io.MultiWriter(r.sink, &tail)

	if captureStdout {
		cmd.Stdout = io.MultiWriter(&captured, &tail)
	} else {
		cmd.Stdout = mw
	}
	cmd.Stderr = mw

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &errs.ExternalCommandFailed{
			Argv:     argv,
			ExitCode: exitCode,
			Captured: tail.String(),
		}
	}

	if captureStdout {
		return strings.TrimSpace(captured.String()), nil
	}
	return "", nil
}

// SpawnBackground starts argv as a long-lived child, streaming combined
// output to the log sink, and returns a handle for the supervisor to
// poll and terminate. name labels the process in logs and in
// ProxyLost errors.
func (r *Runner) SpawnBackground(ctx context.Context, name string, argv []string) (types.ChildProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("runner: empty argv")
	}
	r.logLaunch(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader("")
	cmd.Stdout = r.sink
	cmd.Stderr = r.sink

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "spawn %s", name)
	}

	done := make(chan struct{})
	proc := &childProcess{name: name, cmd: cmd, done: done}
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return proc, nil
}

// SpawnInteractive starts argv with the caller's real terminal as its
// stdin/stdout/stderr, instead of the shared log sink — used only for
// the local shell itself (spec: "this child inherits the terminal"),
// never for the non-interactive helpers the Tunnel Supervisor spawns.
// A non-empty env replaces the child's environment entirely.
func (r *Runner) SpawnInteractive(ctx context.Context, name string, argv []string, env []string) (types.ChildProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("runner: empty argv")
	}
	r.logLaunch(argv)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if env != nil {
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "spawn %s", name)
	}

	done := make(chan struct{})
	proc := &childProcess{name: name, cmd: cmd, done: done}
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return proc, nil
}

// lineTailWriter keeps the last few KB of a stream for error context,
// without retaining the whole thing.
type lineTailWriter struct {
	buf bytes.Buffer
}

const tailLimit = 4096

func (w *lineTailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if w.buf.Len() > tailLimit {
		trimmed := w.buf.Bytes()[w.buf.Len()-tailLimit:]
		w.buf.Reset()
		w.buf.Write(trimmed)
	}
	return len(p), nil
}

func (w *lineTailWriter) String() string { return w.buf.String() }

// childProcess implements types.ChildProcess over an *exec.Cmd.
type childProcess struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
}

func (c *childProcess) Name() string { return c.name }

func (c *childProcess) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *childProcess) Terminate() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Signal(terminateSignal)
}

func (c *childProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *childProcess) Wait(timeout time.Duration) error {
	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errors.Errorf("%s: timed out after %s waiting for exit", c.name, timeout)
	}
}

func (c *childProcess) Done() <-chan struct{} { return c.done }

func (c *childProcess) ExitCode() int {
	if c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// splitArgv is exposed for tests exercising the shlex round-trip.
func splitArgv(s string) ([]string, error) {
	return shlex.Split(s)
}
