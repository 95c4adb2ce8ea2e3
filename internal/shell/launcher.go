// Package shell materializes the local shell process: it composes the
// child environment from the projection plus the prompt/SOCKS-wrapper
// overrides, on SIP-protected platforms shadows the search path so the
// wrapper's library injection can reach binaries under /bin and
// /usr/bin, and spawns the SOCKS-wrapper binary with the user's shell
// as its argument.
package shell

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/kubeshell/internal/runner"
	"github.com/cuemby/kubeshell/internal/types"
)

const promptMarker = "(kubeshell) "

// wrapperConfig is the SOCKS-wrapper's on-disk configuration. Its
// three recognized keys are exactly the ones spec §4.6 step 1 names;
// the format itself (YAML) is an Open Question decision recorded in
// DESIGN.md.
type wrapperConfig struct {
	AllowInboundListeners bool `yaml:"allow_inbound_listeners"`
	AllowOutboundLoopback bool `yaml:"allow_outbound_loopback"`
	SocksPort             int  `yaml:"socks_port"`
}

// Options configures one shell launch.
type Options struct {
	ProjectedEnv types.ProjectedEnv
	SocksPort    int
	ContextName  string
	Shell        string // user's preferred shell, e.g. $SHELL
	WrapperBin   string // path to the SOCKS-wrapper binary
	LogPath      string // non-empty when the log sink is a real file
	ConfigDir    string // directory to write the generated config into
}

// Launcher spawns the local shell and registers its teardown.
type Launcher struct {
	run *runner.Runner
}

// New returns a Launcher using run to spawn the wrapper process.
func New(run *runner.Runner) *Launcher {
	return &Launcher{run: run}
}

// Launch builds the child environment and config file, shadows the
// search path if needed, and spawns the wrapper+shell. It returns the
// spawned ChildProcess and a teardown func that removes the generated
// config (and the shadow directory, if one was created).
func (l *Launcher) Launch(ctx context.Context, opts Options) (types.ChildProcess, func() error, error) {
	configPath, err := writeWrapperConfig(opts.ConfigDir, opts.SocksPort)
	if err != nil {
		return nil, nil, errors.Wrap(err, "write SOCKS-wrapper config")
	}

	env := composeEnv(opts)
	env = append(env, "KUBESHELL_SOCKS_CONFIG="+configPath)
	if opts.LogPath != "" {
		env = append(env, "KUBESHELL_WRAPPER_LOG="+opts.LogPath)
	}

	shadowDir, restorePath, shadowCleanup := shimSearchPath(env)
	if shadowDir != "" {
		env = setPath(env, restorePath)
	}

	proc, err := l.spawn(ctx, opts, env)
	teardown := func() error {
		var errsOut error
		if shadowCleanup != nil {
			if err := shadowCleanup(); err != nil {
				errsOut = err
			}
		}
		if rmErr := os.Remove(configPath); rmErr != nil && !os.IsNotExist(rmErr) {
			if errsOut == nil {
				errsOut = rmErr
			}
		}
		if proc != nil && proc.Alive() {
			_ = proc.Terminate()
		}
		return errsOut
	}
	if err != nil {
		_ = teardown()
		return nil, nil, err
	}
	return proc, teardown, nil
}

func (l *Launcher) spawn(ctx context.Context, opts Options, env []string) (types.ChildProcess, error) {
	argv := []string{opts.WrapperBin, opts.Shell}
	return l.run.SpawnInteractive(ctx, "local-shell", argv, env)
}

// composeEnv layers the projection and prompt overrides on top of the
// current process environment, per spec §4.6 step 1.
func composeEnv(opts Options) []string {
	env := os.Environ()
	for k, v := range opts.ProjectedEnv {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"PS1="+promptMarker+"\\[\\033[1;36m\\]["+opts.ContextName+"]\\[\\033[0m\\] $ ",
		"PROMPT_COMMAND=printf '\\033]0;%s %s\\007' "+promptMarker+" "+opts.ContextName,
	)
	return env
}

func writeWrapperConfig(dir string, socksPort int) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	cfg := wrapperConfig{
		AllowInboundListeners: true,
		AllowOutboundLoopback: true,
		SocksPort:             socksPort,
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("kubeshell-socks-%s.yaml", uuid.NewString()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func setPath(env []string, newPath string) []string {
	out := make([]string, 0, len(env))
	found := false
	for _, e := range env {
		if len(e) > 5 && e[:5] == "PATH=" {
			out = append(out, "PATH="+newPath)
			found = true
			continue
		}
		out = append(out, e)
	}
	if !found {
		out = append(out, "PATH="+newPath)
	}
	return out
}
