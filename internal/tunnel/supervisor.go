// Package tunnel builds and supervises the ensemble of long-lived
// child processes that carry traffic between the local machine and
// the companion pod: the kubectl port-forward, the ssh reverse
// forwards for user-exposed ports, and the ssh forward tunnel into
// the in-pod SOCKS proxy. No child is ever restarted — an ssh
// session's own server-alive setting means a severed connection
// terminates the child within a few seconds, and that termination is
// the signal that propagates up to the session controller.
package tunnel

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/kubeshell/internal/errs"
	"github.com/cuemby/kubeshell/internal/k8s"
	"github.com/cuemby/kubeshell/internal/runner"
	"github.com/cuemby/kubeshell/internal/types"
)

const (
	sshPort           = 22
	inPodSocksPort    = 9050
	controlProbeTries = 30
	controlProbeDelay = 1 * time.Second
	portForwardTries  = 30
	portForwardDelay  = 1 * time.Second
)

// sshBaseArgs are the flags used on every ssh invocation: quiet,
// strict host-key checking off, known_hosts redirected to /dev/null,
// server-alive probing so a severed network drops the session within
// ~3 seconds, no remote shell, non-interactive.
func sshBaseArgs(port int) []string {
	return []string{
		"ssh",
		"-q",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ServerAliveInterval=1",
		"-o", "ServerAliveCountMax=3",
		"-p", itoa(port),
		"-N",
		"root@localhost",
	}
}

// Supervisor builds and owns the tunnel ensemble for one session.
type Supervisor struct {
	gw  *k8s.Gateway
	run *runner.Runner
	log zerolog.Logger
}

// New returns a Supervisor using gw for port-forwards/exec probes and
// run for spawning ssh children.
func New(gw *k8s.Gateway, run *runner.Runner, logger zerolog.Logger) *Supervisor {
	return &Supervisor{gw: gw, run: run, log: logger}
}

// Build performs the full sequence from spec §4.5: acquire the
// control port, spawn the port-forward, probe readiness, open a
// reverse-forward per exposedPort, and open the SOCKS forward-tunnel.
func (s *Supervisor) Build(ctx context.Context, ref *types.PodRef, exposedPorts []int) (*types.TunnelSet, error) {
	controlPort, err := freePort()
	if err != nil {
		return nil, errors.Wrap(err, "acquire control port")
	}

	var supervised []types.ChildProcess
	cleanup := func() {
		for _, c := range supervised {
			_ = c.Terminate()
		}
	}

	pf, err := s.gw.PortForward(ctx, ref.Namespace, ref.PodName, controlPort, sshPort)
	if err != nil {
		return nil, errors.Wrap(err, "spawn control port-forward")
	}
	supervised = append(supervised, pf)

	if !k8s.WaitPortForwardReady(ctx, controlPort, portForwardTries, portForwardDelay) {
		cleanup()
		return nil, &errs.TunnelNotReady{Detail: "port-forward never accepted connections"}
	}

	if !s.probeControlChannel(ctx, controlPort) {
		cleanup()
		return nil, &errs.TunnelNotReady{Detail: "ssh control channel never became ready"}
	}

	for _, p := range exposedPorts {
		args := append(sshBaseArgs(controlPort), "-R", itoa2(p, p))
		child, err := s.run.SpawnBackground(ctx, "ssh-reverse:"+itoa(p), args)
		if err != nil {
			cleanup()
			return nil, errors.Wrapf(err, "spawn reverse-forward for port %d", p)
		}
		supervised = append(supervised, child)
	}

	socksPort, err := freePort()
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "acquire SOCKS port")
	}
	socksArgs := append(sshBaseArgs(controlPort), "-L", itoa3(socksPort, inPodSocksPort))
	socksChild, err := s.run.SpawnBackground(ctx, "ssh-socks", socksArgs)
	if err != nil {
		cleanup()
		return nil, errors.Wrap(err, "spawn SOCKS forward-tunnel")
	}
	supervised = append(supervised, socksChild)

	if !s.confirmInPodSocks(ctx, ref) {
		s.log.Warn().Msg("could not confirm in-pod SOCKS listener before declaring tunnel ready; proceeding on settle-window trust")
	}

	return &types.TunnelSet{
		ControlPort:    controlPort,
		SocksLocalPort: socksPort,
		Supervised:     supervised,
	}, nil
}

// probeControlChannel attempts a no-op ssh command against the
// control port up to controlProbeTries times.
func (s *Supervisor) probeControlChannel(ctx context.Context, controlPort int) bool {
	for i := 0; i < controlProbeTries; i++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		args := append(sshArgsNonPersistent(controlPort), "true")
		if err := s.run.RunAndWaitSuccess(ctx, args); err == nil {
			return true
		}
		time.Sleep(controlProbeDelay)
	}
	return false
}

func sshArgsNonPersistent(port int) []string {
	return []string{
		"ssh",
		"-q",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-p", itoa(port),
		"root@localhost",
	}
}

// confirmInPodSocks closes the race Open Question (b) flags: a
// successful ssh auth does not guarantee the in-pod forwarder daemon
// has started its SOCKS listener yet. It execs a trivial TCP-connect
// probe inside the pod against the well-known SOCKS port.
func (s *Supervisor) confirmInPodSocks(ctx context.Context, ref *types.PodRef) bool {
	probe := []string{"sh", "-c", "echo > /dev/tcp/127.0.0.1/" + itoa(inPodSocksPort)}
	_, err := s.gw.Exec(ctx, ref.Namespace, ref.PodName, ref.ContainerName, probe)
	return err == nil
}

// freePort binds loopback:0, reads the assigned port, and closes the
// listener. This is inherently racy — nothing stops another process
// from taking the port before the caller rebinds it — but kernel
// ephemeral-port reuse makes the window small enough to be a known,
// accepted limitation rather than a bug.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func itoa(n int) string { return strconv.Itoa(n) }

func itoa2(local, remote int) string {
	return "*:" + strconv.Itoa(local) + ":127.0.0.1:" + strconv.Itoa(remote)
}

func itoa3(local, remote int) string {
	return "127.0.0.1:" + strconv.Itoa(local) + ":127.0.0.1:" + strconv.Itoa(remote)
}
