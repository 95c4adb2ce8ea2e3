// Package errs defines the small set of typed error kinds the proxy
// session controller raises. Every component returns one of these
// (wrapped with github.com/pkg/errors where extra context helps)
// rather than ad-hoc strings, so the session controller can switch on
// kind when deciding an exit code.
package errs

import "fmt"

// ExternalCommandFailed wraps a non-zero exit from a supervised
// command, carrying enough context to reproduce it by hand.
type ExternalCommandFailed struct {
	Argv     []string
	ExitCode int
	Captured string
}

func (e *ExternalCommandFailed) Error() string {
	return fmt.Sprintf("command failed (exit %d): %v", e.ExitCode, e.Argv)
}

// Preflight indicates a required external tool is missing or
// unreachable before the session even begins.
type Preflight struct {
	MissingTool string
	Detail      string
}

func (e *Preflight) Error() string {
	return fmt.Sprintf("preflight check failed: %s: %s", e.MissingTool, e.Detail)
}

// PodNotFound is raised when no pod matches the workload's selection
// criteria.
type PodNotFound struct {
	Workload  string
	Namespace string
}

func (e *PodNotFound) Error() string {
	return fmt.Sprintf("no running or pending pod found for workload %q in namespace %q", e.Workload, e.Namespace)
}

// PodNotReady is raised when the wait-until-ready poll budget is
// exhausted before the companion container reports ready.
type PodNotReady struct {
	Pod     string
	Elapsed string
}

func (e *PodNotReady) Error() string {
	return fmt.Sprintf("pod %q did not become ready within %s", e.Pod, e.Elapsed)
}

// VersionMismatch is raised when the companion image tag visible in
// the cluster does not match this binary's own version string.
type VersionMismatch struct {
	Wanted string
	Got    string
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("companion image version mismatch: tool is %s, pod has %s", e.Wanted, e.Got)
}

// TunnelNotReady is raised when the control-channel readiness probe
// never succeeds within its budget.
type TunnelNotReady struct {
	Detail string
}

func (e *TunnelNotReady) Error() string {
	return fmt.Sprintf("tunnel did not become ready: %s", e.Detail)
}

// ProxyLost is raised when a supervised helper dies while the local
// shell is still running.
type ProxyLost struct {
	Helper string
}

func (e *ProxyLost) Error() string {
	return fmt.Sprintf("proxy lost: helper %q exited unexpectedly", e.Helper)
}

// Unexpected wraps any fault the session controller did not otherwise
// anticipate. It carries enough context to offer the user a crash
// report.
type Unexpected struct {
	Traceback string
}

func (e *Unexpected) Error() string {
	return fmt.Sprintf("unexpected internal error: %s", e.Traceback)
}
