package env

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/kubeshell/internal/types"
)

func TestServiceKeys_SortedAndDeduped(t *testing.T) {
	podEnv := types.PodEnv{
		"ZOO_SERVICE_HOST": "10.0.0.2",
		"API_SERVICE_HOST": "10.0.0.1",
		"API_SERVICE_PORT": "80",
	}
	assert.Equal(t, []string{"API", "ZOO"}, ServiceKeys(podEnv))
}

func TestServiceKeys_Empty(t *testing.T) {
	assert.Empty(t, ServiceKeys(types.PodEnv{"FOO": "1"}))
}

// TestProject_ScenarioS6 matches the scenario spec.md §8 S6 describes.
func TestProject_ScenarioS6(t *testing.T) {
	podEnv := types.PodEnv{
		"FOO":                   "1",
		"BAR":                   "2",
		"API_SERVICE_HOST":      "10.0.0.1",
		"API_SERVICE_PORT":      "80",
		"API_PORT_80_TCP_ADDR":  "10.0.0.1",
		"OTHER":                 "x",
	}
	declared := []string{"BAR"}

	got := Project(podEnv, declared, "web-abcde", "tp-sidecar")

	assert.Equal(t, "2", got["BAR"])
	assert.Equal(t, "10.0.0.1", got["API_SERVICE_HOST"])
	assert.Equal(t, "80", got["API_SERVICE_PORT"])
	assert.Equal(t, "10.0.0.1", got["API_PORT_80_TCP_ADDR"])
	assert.Equal(t, "web-abcde", got[NamespacePrefix+"_POD"])
	assert.Equal(t, "tp-sidecar", got[NamespacePrefix+"_CONTAINER"])

	_, hasFoo := got["FOO"]
	_, hasOther := got["OTHER"]
	assert.False(t, hasFoo)
	assert.False(t, hasOther)

	// Every present key is accounted for by one of the three rules.
	serviceKeys := ServiceKeys(podEnv)
	for name := range got {
		if name == NamespacePrefix+"_POD" || name == NamespacePrefix+"_CONTAINER" {
			continue
		}
		isDeclared := name == "BAR"
		isService := false
		for _, key := range serviceKeys {
			if len(name) > len(key) && name[:len(key)+1] == key+"_" {
				isService = true
			}
		}
		assert.True(t, isDeclared || isService, "unexpected variable %s in projection", name)
	}
}

func TestProject_Deterministic(t *testing.T) {
	podEnv := types.PodEnv{
		"BAR":              "2",
		"API_SERVICE_HOST": "10.0.0.1",
	}
	a := Project(podEnv, []string{"BAR"}, "web-abcde", "tp-sidecar")
	b := Project(podEnv, []string{"BAR"}, "web-abcde", "tp-sidecar")
	assert.Equal(t, a, b)
}
