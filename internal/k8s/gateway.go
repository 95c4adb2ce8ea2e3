// Package k8s is a thin typed façade over the cluster control-plane
// CLI (kubectl, or whatever binary $KUBECTL names). It never imports
// client-go: the control-plane client is treated as an opaque
// command-line collaborator, and every operation here shells out
// through internal/runner and propagates ExternalCommandFailed
// verbatim — no retries happen at this layer.
package k8s

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cuemby/kubeshell/internal/runner"
	"github.com/cuemby/kubeshell/internal/types"
)

// ContainerSpec describes one container in a pod template.
type ContainerSpec struct {
	Name  string
	Image string
}

// WorkloadSpec is the structured description get_workload_spec
// returns: the pod template's expected labels and container list.
type WorkloadSpec struct {
	Namespace  string
	PodLabels  map[string]string
	Containers []ContainerSpec
	// Env maps container name to the variable names declared in its
	// spec (values are not needed by the projector, only presence).
	Env map[string][]string
}

// ContainerStatus is one container's readiness within a pod.
type ContainerStatus struct {
	Name  string
	Ready bool
}

// Pod is one entry from list_pods.
type Pod struct {
	Name       string
	Namespace  string
	Phase      string
	Labels     map[string]string
	Containers []ContainerStatus
	Spec       []ContainerSpec
}

// Gateway is the typed façade over kubectl.
type Gateway struct {
	run *runner.Runner
	log zerolog.Logger
	bin string
}

// New returns a Gateway invoking kubectlBin (or "kubectl" if empty,
// falling back further to $KUBECTL if set).
func New(run *runner.Runner, logger zerolog.Logger, kubectlBin string) *Gateway {
	if kubectlBin == "" {
		if env := os.Getenv("KUBECTL"); env != "" {
			kubectlBin = env
		} else {
			kubectlBin = "kubectl"
		}
	}
	return &Gateway{run: run, log: logger, bin: kubectlBin}
}

func (g *Gateway) argv(args ...string) []string {
	return append([]string{g.bin}, args...)
}

// Version runs the cheap read-only call preflight uses to confirm the
// control-plane client is reachable.
func (g *Gateway) Version(ctx context.Context) error {
	return g.run.RunAndWaitSuccess(ctx, g.argv("version", "--client"))
}

// CurrentContextName returns the active cluster context's short name.
func (g *Gateway) CurrentContextName(ctx context.Context) (string, error) {
	return g.run.RunAndCaptureStdout(ctx, g.argv("config", "current-context"))
}

// CreateWorkload idempotently (re)creates a deployment named name
// running image, optionally exposing it as a service on exposedPorts.
// Any pre-existing deployment/service of the same name is deleted
// first with not-found errors ignored.
func (g *Gateway) CreateWorkload(ctx context.Context, namespace, name, image string, exposedPorts []int) error {
	if err := g.DeleteWorkload(ctx, namespace, name); err != nil {
		return errors.Wrap(err, "pre-delete before create")
	}

	args := g.argv("run", name,
		"--image="+image,
		"--namespace="+namespace,
		"--restart=Always",
	)
	if err := g.run.RunAndWaitSuccess(ctx, args); err != nil {
		return errors.Wrapf(err, "create workload %s/%s", namespace, name)
	}

	if len(exposedPorts) == 0 {
		return nil
	}

	exposeArgs := g.argv("expose", "deployment", name, "--namespace="+namespace)
	for _, p := range exposedPorts {
		exposeArgs = append(exposeArgs, "--port="+itoa(p))
	}
	if err := g.run.RunAndWaitSuccess(ctx, exposeArgs); err != nil {
		return errors.Wrapf(err, "expose workload %s/%s", namespace, name)
	}
	return nil
}

// DeleteWorkload deletes the deployment and service named name,
// ignoring not-found.
func (g *Gateway) DeleteWorkload(ctx context.Context, namespace, name string) error {
	args := g.argv("delete", "service,deployment", name,
		"--namespace="+namespace,
		"--ignore-not-found=true",
	)
	return g.run.RunAndWaitSuccess(ctx, args)
}

// rawWorkload mirrors just the fields of a Deployment we read.
type rawWorkload struct {
	Spec struct {
		Template struct {
			Metadata struct {
				Labels map[string]string `json:"labels"`
			} `json:"metadata"`
			Spec struct {
				Containers []struct {
					Name  string `json:"name"`
					Image string `json:"image"`
					Env   []struct {
						Name string `json:"name"`
					} `json:"env"`
				} `json:"containers"`
			} `json:"spec"`
		} `json:"template"`
	} `json:"spec"`
}

// GetWorkloadSpec fetches the workload's pod template: expected
// labels and each container's name, image, and declared env var
// names.
func (g *Gateway) GetWorkloadSpec(ctx context.Context, namespace, name string) (*WorkloadSpec, error) {
	out, err := g.run.RunAndCaptureStdout(ctx, g.argv(
		"get", "deployment", name,
		"--namespace="+namespace,
		"-o", "json",
	))
	if err != nil {
		return nil, errors.Wrapf(err, "get workload spec %s/%s", namespace, name)
	}

	var raw rawWorkload
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Wrap(err, "parse workload spec")
	}

	spec := &WorkloadSpec{
		Namespace: namespace,
		PodLabels: raw.Spec.Template.Metadata.Labels,
		Env:       make(map[string][]string),
	}
	for _, c := range raw.Spec.Template.Spec.Containers {
		spec.Containers = append(spec.Containers, ContainerSpec{Name: c.Name, Image: c.Image})
		names := make([]string, 0, len(c.Env))
		for _, e := range c.Env {
			names = append(names, e.Name)
		}
		spec.Env[c.Name] = names
	}
	return spec, nil
}

type rawPodList struct {
	Items []struct {
		Metadata struct {
			Name      string            `json:"name"`
			Namespace string            `json:"namespace"`
			Labels    map[string]string `json:"labels"`
		} `json:"metadata"`
		Spec struct {
			Containers []struct {
				Name  string `json:"name"`
				Image string `json:"image"`
			} `json:"containers"`
		} `json:"spec"`
		Status struct {
			Phase             string `json:"phase"`
			ContainerStatuses []struct {
				Name  string `json:"name"`
				Ready bool   `json:"ready"`
			} `json:"containerStatuses"`
		} `json:"status"`
	} `json:"items"`
}

// ListPods lists every pod in namespace.
func (g *Gateway) ListPods(ctx context.Context, namespace string) ([]Pod, error) {
	out, err := g.run.RunAndCaptureStdout(ctx, g.argv(
		"get", "pods",
		"--namespace="+namespace,
		"-o", "json",
	))
	if err != nil {
		return nil, errors.Wrapf(err, "list pods in %s", namespace)
	}

	var raw rawPodList
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, errors.Wrap(err, "parse pod list")
	}

	pods := make([]Pod, 0, len(raw.Items))
	for _, item := range raw.Items {
		p := Pod{
			Name:      item.Metadata.Name,
			Namespace: item.Metadata.Namespace,
			Phase:     item.Status.Phase,
			Labels:    item.Metadata.Labels,
		}
		for _, c := range item.Spec.Containers {
			p.Spec = append(p.Spec, ContainerSpec{Name: c.Name, Image: c.Image})
		}
		for _, cs := range item.Status.ContainerStatuses {
			p.Containers = append(p.Containers, ContainerStatus{Name: cs.Name, Ready: cs.Ready})
		}
		pods = append(pods, p)
	}
	return pods, nil
}

// Exec runs argv inside container of pod and returns captured stdout.
func (g *Gateway) Exec(ctx context.Context, namespace, pod, container string, argv []string) (string, error) {
	args := g.argv("exec", pod,
		"--namespace="+namespace,
		"--container="+container,
		"--",
	)
	args = append(args, argv...)
	return g.run.RunAndCaptureStdout(ctx, args)
}

// PortForward starts a background `kubectl port-forward` binding
// local:remote against pod, returning a ChildProcess considered ready
// once a TCP connect to the local port succeeds.
func (g *Gateway) PortForward(ctx context.Context, namespace, pod string, local, remote int) (types.ChildProcess, error) {
	spec := itoa(local) + ":" + itoa(remote)
	args := g.argv("port-forward", "pod/"+pod, spec, "--namespace="+namespace)
	return g.run.SpawnBackground(ctx, "port-forward:"+spec, args)
}

// WaitPortForwardReady polls local until a TCP connect succeeds or
// timeout elapses.
func WaitPortForwardReady(ctx context.Context, local int, attempts int, interval time.Duration) bool {
	addr := net.JoinHostPort("127.0.0.1", itoa(local))
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return true
		}
		time.Sleep(interval)
	}
	return false
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
