// Package env derives the ProjectedEnv a local shell receives from the
// raw PodEnv captured inside the companion container, per the rules
// in spec §4.4. The projection is a pure, deterministic function of
// its inputs: re-running it on the same PodEnv and declared-env set
// always yields the same map.
package env

import (
	"sort"
	"strings"

	"github.com/cuemby/kubeshell/internal/types"
)

// serviceSuffixes is the family of variable-name suffixes copied for
// every service key found in PodEnv.
var serviceSuffixes = []string{"_ADDR", "_PORT", "_PROTO", "_HOST", "_TCP"}

const servicePrefixSuffix = "_SERVICE_HOST"

// NamespacePrefix is the stable prefix used for the two synthetic
// variables naming the pod and container.
const NamespacePrefix = "TELEPRESENCE"

// ServiceKeys returns the sorted set of service keys present in env:
// for every "<NAME>_SERVICE_HOST" variable, <NAME> is a key. Sorting
// lexicographically is the canonical projection order, matched by the
// in-pod forwarder's own tunnel-slot assignment.
func ServiceKeys(podEnv types.PodEnv) []string {
	keys := make([]string, 0)
	for name := range podEnv {
		if strings.HasSuffix(name, servicePrefixSuffix) {
			keys = append(keys, strings.TrimSuffix(name, servicePrefixSuffix))
		}
	}
	sort.Strings(keys)
	return keys
}

// Project derives a ProjectedEnv from podEnv, the companion
// container's declared env var names, and the pod/container names
// used for the synthetic variables.
func Project(podEnv types.PodEnv, declaredNames []string, podName, containerName string) types.ProjectedEnv {
	out := make(types.ProjectedEnv)

	out[NamespacePrefix+"_POD"] = podName
	out[NamespacePrefix+"_CONTAINER"] = containerName

	declared := make(map[string]struct{}, len(declaredNames))
	for _, n := range declaredNames {
		declared[n] = struct{}{}
	}
	for name, value := range podEnv {
		if _, ok := declared[name]; ok {
			out[name] = value
		}
	}

	serviceKeys := ServiceKeys(podEnv)
	for name, value := range podEnv {
		for _, key := range serviceKeys {
			if !strings.HasPrefix(name, key+"_") {
				continue
			}
			for _, s := range serviceSuffixes {
				if strings.HasSuffix(name, s) {
					out[name] = value
					break
				}
			}
		}
	}

	return out
}
