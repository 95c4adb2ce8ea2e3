// Package session composes the Orchestrator Gateway, Pod Resolver,
// Tunnel Supervisor, Environment Projector, and Local Shell Launcher
// into one staged session lifecycle, and supervises the ensemble: any
// helper death before the shell exits tears everything down. This is
// the proxy session controller.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/kubeshell/internal/env"
	"github.com/cuemby/kubeshell/internal/errs"
	"github.com/cuemby/kubeshell/internal/k8s"
	"github.com/cuemby/kubeshell/internal/metrics"
	"github.com/cuemby/kubeshell/internal/pod"
	"github.com/cuemby/kubeshell/internal/runner"
	"github.com/cuemby/kubeshell/internal/shell"
	"github.com/cuemby/kubeshell/internal/tunnel"
	"github.com/cuemby/kubeshell/internal/types"
)

// watchInterval is the poll period for the supervision loop; spec §5
// requires a helper death be detected within 200ms, so 10 Hz (100ms)
// gives headroom.
const watchInterval = 100 * time.Millisecond

const settleWindow = 5 * time.Second

// Config holds everything the session controller needs for one
// invocation, corresponding to the CLI surface in spec §6.
type Config struct {
	Namespace      string
	Workload       string
	CreateWorkload bool
	Image          string // fully-qualified companion image, already resolved from registry+version
	ExposedPorts   []int
	Shell          string
	WrapperBin     string
	SSHBin         string
	KubectlBin     string
	LogPath        string
	ConfigDir      string
	MetricsAddr    string
	Version        string
}

// Controller owns one session's lifetime end to end.
type Controller struct {
	cfg Config
	log zerolog.Logger
	run *runner.Runner
	gw  *k8s.Gateway

	state    *stateMachine
	teardown *teardownRegistry
	metrics  *metrics.Server
}

// New wires a Controller from cfg, the shared log sink, and the
// process-wide logger.
func New(cfg Config, sink io.Writer, logger zerolog.Logger) *Controller {
	run := runner.New(sink, logger)
	gw := k8s.New(run, logger, cfg.KubectlBin)
	return &Controller{
		cfg:      cfg,
		log:      logger,
		run:      run,
		gw:       gw,
		state:    newStateMachine(),
		teardown: newTeardownRegistry(logger),
	}
}

// Run drives the full session lifecycle and returns the process exit
// code: 0 on normal shell exit, 1 on preflight/internal failure, 3 on
// proxy loss.
func (c *Controller) Run(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			report := newCrashReport(os.Args, c.cfg.Version, "unknown", readLogTail(c.cfg.LogPath))
			fault := &errs.Unexpected{Traceback: report.Traceback}
			c.log.Error().Str("panic", fmt.Sprintf("%v", r)).Msg(fault.Error())
			offerCrashReport(os.Stderr, os.Stdin, report)
			_ = c.teardown.run()
			code = 1
		}
	}()

	ctx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	if c.cfg.MetricsAddr != "" {
		c.metrics = metrics.NewServer(c.cfg.MetricsAddr)
		c.metrics.Start()
		defer func() { _ = c.metrics.Stop(2 * time.Second) }()
	}
	c.reportState()

	if err := c.preflight(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	workloadRef, err := c.ensureWorkload(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_ = c.teardown.run()
		return 1
	}

	podRef, err := c.resolvePod(ctx, workloadRef)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_ = c.teardown.run()
		return 1
	}

	tunnels, err := c.buildTunnels(ctx, podRef)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_ = c.teardown.run()
		return 1
	}

	projected, err := c.captureEnv(ctx, podRef)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_ = c.teardown.run()
		return 1
	}

	shellProc, err := c.launchShell(ctx, podRef, tunnels, projected)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		_ = c.teardown.run()
		return 1
	}

	if err := c.state.advance(Running); err != nil {
		c.log.Warn().Err(err).Msg("state transition")
	}
	c.reportState()

	code = c.watch(ctx, shellProc, tunnels)

	_ = c.state.advance(Draining)
	c.reportState()
	if err := c.teardown.run(); err != nil {
		c.log.Warn().Err(err).Msg("teardown reported errors")
	}
	_ = c.state.advance(Exited)
	c.reportState()
	return code
}

func (c *Controller) reportState() {
	if c.metrics != nil {
		metrics.SessionState.Set(float64(c.state.get()))
	}
}

// preflight verifies the three external collaborators spec §4.7 step 1
// names: the control-plane client is reachable, a compatible ssh
// client is installed, and the SOCKS-wrapper binary is installed.
func (c *Controller) preflight(ctx context.Context) error {
	if err := c.gw.Version(ctx); err != nil {
		return &errs.Preflight{MissingTool: c.gatewayBin(), Detail: "control-plane client not reachable"}
	}
	sshBin := c.cfg.SSHBin
	if sshBin == "" {
		sshBin = "ssh"
	}
	if _, err := exec.LookPath(sshBin); err != nil {
		return &errs.Preflight{MissingTool: sshBin, Detail: "ssh client not installed"}
	}
	if _, err := exec.LookPath(c.cfg.WrapperBin); err != nil {
		return &errs.Preflight{MissingTool: c.cfg.WrapperBin, Detail: "SOCKS-wrapper binary not installed"}
	}
	return nil
}

func (c *Controller) gatewayBin() string {
	if c.cfg.KubectlBin != "" {
		return c.cfg.KubectlBin
	}
	return "kubectl"
}

// ensureWorkload optionally creates the workload, registering its
// deletion on session exit, per spec §4.7 step 2.
func (c *Controller) ensureWorkload(ctx context.Context) (types.WorkloadRef, error) {
	ref := types.WorkloadRef{Namespace: c.cfg.Namespace, Name: c.cfg.Workload}
	if !c.cfg.CreateWorkload {
		return ref, nil
	}

	if err := c.gw.CreateWorkload(ctx, ref.Namespace, ref.Name, c.cfg.Image, c.cfg.ExposedPorts); err != nil {
		return ref, err
	}
	ref.CreatedHere = true
	c.teardown.add("delete workload "+ref.Name, func() error {
		return c.gw.DeleteWorkload(context.Background(), ref.Namespace, ref.Name)
	})
	return ref, nil
}

func (c *Controller) resolvePod(ctx context.Context, workload types.WorkloadRef) (*types.PodRef, error) {
	resolver := pod.New(c.gw, c.log, c.cfg.Version)
	return resolver.Resolve(ctx, workload.Namespace, workload.Name)
}

// buildTunnels runs the Tunnel Supervisor and then sleeps the settle
// window, per spec §4.7 step 4. Every child it spawns is registered
// for teardown immediately so a failure partway through still tears
// down what was already running.
func (c *Controller) buildTunnels(ctx context.Context, ref *types.PodRef) (*types.TunnelSet, error) {
	sup := tunnel.New(c.gw, c.run, c.log)
	ts, err := sup.Build(ctx, ref, c.cfg.ExposedPorts)
	if err != nil {
		return nil, err
	}
	for _, child := range ts.Supervised {
		child := child
		c.teardown.add("terminate "+child.Name(), func() error {
			if !child.Alive() {
				return nil
			}
			return child.Terminate()
		})
	}

	start := time.Now()
	time.Sleep(settleWindow)
	if c.metrics != nil {
		metrics.SettleProbeDuration.Set(time.Since(start).Seconds())
	}
	return ts, nil
}

// captureEnv execs into the companion container, captures its
// environment, and projects it, per spec §4.7 step 5.
func (c *Controller) captureEnv(ctx context.Context, ref *types.PodRef) (types.ProjectedEnv, error) {
	raw, err := c.gw.Exec(ctx, ref.Namespace, ref.PodName, ref.ContainerName, []string{"env"})
	if err != nil {
		return nil, errors.Wrap(err, "capture pod environment")
	}
	podEnv := parsePodEnv(raw)

	spec, err := c.gw.GetWorkloadSpec(ctx, ref.Namespace, c.cfg.Workload)
	if err != nil {
		return nil, err
	}
	declared := spec.Env[ref.ContainerName]

	return env.Project(podEnv, declared, ref.PodName, ref.ContainerName), nil
}

// parsePodEnv splits the newline-delimited output of `env` inside the
// pod into a PodEnv map.
func parsePodEnv(raw string) types.PodEnv {
	out := make(types.PodEnv)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			line := raw[start:i]
			start = i + 1
			if line == "" {
				continue
			}
			for j := 0; j < len(line); j++ {
				if line[j] == '=' {
					out[line[:j]] = line[j+1:]
					break
				}
			}
		}
	}
	return out
}

// launchShell starts the local shell, registering its teardown, per
// spec §4.7 step 6.
func (c *Controller) launchShell(ctx context.Context, ref *types.PodRef, ts *types.TunnelSet, projected types.ProjectedEnv) (types.ChildProcess, error) {
	contextName, err := c.gw.CurrentContextName(ctx)
	if err != nil {
		contextName = "unknown"
	}

	launcher := shell.New(c.run)
	opts := shell.Options{
		ProjectedEnv: projected,
		SocksPort:    ts.SocksLocalPort,
		ContextName:  contextName,
		Shell:        c.cfg.Shell,
		WrapperBin:   c.cfg.WrapperBin,
		LogPath:      c.cfg.LogPath,
		ConfigDir:    c.cfg.ConfigDir,
	}

	proc, teardownShell, err := launcher.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.teardown.add("local shell", teardownShell)
	return proc, nil
}

// watch polls at watchInterval until the shell exits (success path,
// exit code is the shell's own) or any tunnel helper dies first
// (proxy-lost path, exit code 3). Spec §5 requires detection within
// 200ms; watchInterval is 100ms.
func (c *Controller) watch(ctx context.Context, shellProc types.ChildProcess, ts *types.TunnelSet) int {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var lastSignal time.Time
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shellProc.Done():
			return c.shellExitCode(shellProc)

		case <-ctx.Done():
			return 1

		case sig := <-sigCh:
			if time.Since(lastSignal) < 2*time.Second && !lastSignal.IsZero() {
				c.log.Warn().Str("signal", sig.String()).Msg("second signal within 2s, escalating to kill")
				c.killAll(shellProc, ts)
				return 1
			}
			lastSignal = time.Now()
			c.log.Info().Str("signal", sig.String()).Msg("terminating session")
			c.terminateAll(shellProc, ts)

		case <-ticker.C:
			for _, child := range ts.Supervised {
				if !child.Alive() {
					lost := &errs.ProxyLost{Helper: child.Name()}
					c.log.Error().Err(lost).Msg("helper died before shell")
					fmt.Fprintln(os.Stderr, lost.Error())
					if c.metrics != nil {
						metrics.HelperDeathsTotal.Inc()
					}
					if shellProc.Alive() {
						_ = shellProc.Terminate()
					}
					return 3
				}
			}
		}
	}
}

func (c *Controller) shellExitCode(proc types.ChildProcess) int {
	code := proc.ExitCode()
	if code < 0 {
		return 0
	}
	return code
}

func (c *Controller) terminateAll(shellProc types.ChildProcess, ts *types.TunnelSet) {
	if shellProc.Alive() {
		_ = shellProc.Terminate()
	}
	for _, child := range ts.Supervised {
		if child.Alive() {
			_ = child.Terminate()
		}
	}
}

func (c *Controller) killAll(shellProc types.ChildProcess, ts *types.TunnelSet) {
	if shellProc.Alive() {
		_ = shellProc.Kill()
	}
	for _, child := range ts.Supervised {
		if child.Alive() {
			_ = child.Kill()
		}
	}
}
