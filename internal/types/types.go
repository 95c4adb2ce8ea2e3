// Package types holds the small set of value types shared across the
// proxy session packages: workload/pod references, the supervised
// child-process handle, and the tunnel bookkeeping struct.
package types

import "time"

// WorkloadRef identifies a workload this session either adopted or
// created. CreatedHere is true only when the session itself created
// the workload, in which case the session also owns its deletion.
type WorkloadRef struct {
	Namespace   string
	Name        string
	CreatedHere bool
}

// PodRef identifies the single pod backing a WorkloadRef, along with
// the companion container inside it.
type PodRef struct {
	Namespace         string
	PodName           string
	ContainerName     string
	CompanionImageTag string
}

// PodEnv is the raw environment captured from inside the companion
// container, as returned by the environment-listing command.
type PodEnv map[string]string

// ProjectedEnv is the subset of PodEnv (plus synthetic variables) that
// is safe to inject into the local shell. See internal/env.
type ProjectedEnv map[string]string

// ChildProcess is the minimal surface the session controller needs
// over an OS process: liveness, graceful/forceful termination, and a
// bounded wait.
type ChildProcess interface {
	// Name is a short human-readable label for logs ("port-forward",
	// "ssh-reverse:8080", ...).
	Name() string
	Alive() bool
	Terminate() error
	Kill() error
	Wait(timeout time.Duration) error
	// Done returns a channel closed when the process has exited.
	Done() <-chan struct{}
	// ExitCode returns the process's exit status. Valid only after
	// Done() has closed; -1 if it has not exited or exited abnormally
	// without a reportable status.
	ExitCode() int
}

// TunnelSet is the result of building the tunnel ensemble: the local
// control-channel and SOCKS ports, plus every child process spawned to
// build them. A TunnelSet is considered dead the instant any one of
// Supervised is no longer alive.
type TunnelSet struct {
	ControlPort    int
	SocksLocalPort int
	Supervised     []ChildProcess
}

// Alive reports whether every supervised child of the tunnel set is
// still running.
func (t *TunnelSet) Alive() bool {
	for _, c := range t.Supervised {
		if !c.Alive() {
			return false
		}
	}
	return true
}
