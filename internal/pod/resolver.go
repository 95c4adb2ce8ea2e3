// Package pod resolves a workload name to the single running/pending
// pod backing it, identifies its companion container, and checks the
// companion image's version against this binary's own version string.
package pod

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/kubeshell/internal/errs"
	"github.com/cuemby/kubeshell/internal/k8s"
	"github.com/cuemby/kubeshell/internal/types"
)

const (
	defaultNamespace = "default"
	waitAttempts     = 120
	waitInterval     = 1 * time.Second
)

// Resolver locates and validates the companion pod for a workload.
type Resolver struct {
	gw      *k8s.Gateway
	log     zerolog.Logger
	version string // this binary's version, for the companion image check
}

// New returns a Resolver checking companion images against version.
func New(gw *k8s.Gateway, logger zerolog.Logger, version string) *Resolver {
	return &Resolver{gw: gw, log: logger, version: version}
}

// companionToken identifies the companion image by a substring of its
// reference, e.g. "telepresence-k8s".
const companionToken = "telepresence-k8s"

// Resolve runs the full selection algorithm from the namespace the
// caller supplies (or the workload spec's own namespace, or
// "default") down to a validated, ready PodRef.
func (r *Resolver) Resolve(ctx context.Context, namespace, workload string) (*types.PodRef, error) {
	spec, err := r.gw.GetWorkloadSpec(ctx, namespace, workload)
	if err != nil {
		return nil, err
	}

	effectiveNS := namespace
	if spec.Namespace != "" {
		effectiveNS = spec.Namespace
	}
	if effectiveNS == "" {
		effectiveNS = defaultNamespace
	}

	pods, err := r.gw.ListPods(ctx, effectiveNS)
	if err != nil {
		return nil, err
	}

	candidate, containerSpec, err := r.selectPod(pods, spec.PodLabels, workload, effectiveNS)
	if err != nil {
		return nil, err
	}

	tag := imageTag(containerSpec.Image)
	if tag != r.version {
		return nil, &errs.VersionMismatch{Wanted: r.version, Got: tag}
	}

	ref := &types.PodRef{
		Namespace:         effectiveNS,
		PodName:           candidate.Name,
		ContainerName:     containerSpec.Name,
		CompanionImageTag: tag,
	}

	if err := r.waitUntilReady(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// selectPod applies the label-superset / name-prefix / namespace /
// phase filter from spec §4.3 step 3, then picks the companion
// container from the winning pod's spec.
func (r *Resolver) selectPod(pods []k8s.Pod, expectedLabels map[string]string, workload, namespace string) (*k8s.Pod, *k8s.ContainerSpec, error) {
	for i := range pods {
		p := &pods[i]
		if !labelsSuperset(p.Labels, expectedLabels) {
			continue
		}
		if !strings.HasPrefix(p.Name, workload+"-") {
			continue
		}
		if p.Namespace != namespace {
			continue
		}
		if p.Phase != "Pending" && p.Phase != "Running" {
			continue
		}

		for j := range p.Spec {
			c := &p.Spec[j]
			if strings.Contains(c.Image, companionToken) {
				return p, c, nil
			}
		}
	}
	return nil, nil, &errs.PodNotFound{Workload: workload, Namespace: namespace}
}

func labelsSuperset(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// imageTag returns the substring after the final ':' of an image
// reference.
func imageTag(image string) string {
	idx := strings.LastIndex(image, ":")
	if idx < 0 {
		return ""
	}
	return image[idx+1:]
}

// waitUntilReady polls the pod's status until it is Running with the
// companion container ready, up to waitAttempts times at waitInterval.
func (r *Resolver) waitUntilReady(ctx context.Context, ref *types.PodRef) error {
	for i := 0; i < waitAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pods, err := r.gw.ListPods(ctx, ref.Namespace)
		if err != nil {
			return err
		}

		for _, p := range pods {
			if p.Name != ref.PodName {
				continue
			}
			if p.Phase == "Running" {
				for _, cs := range p.Containers {
					if cs.Name == ref.ContainerName && cs.Ready {
						return nil
					}
				}
			}
		}

		time.Sleep(waitInterval)
	}
	return &errs.PodNotReady{Pod: ref.PodName, Elapsed: (waitAttempts * waitInterval).String()}
}
