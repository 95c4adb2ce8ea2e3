package shell

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteWrapperConfig(t *testing.T) {
	dir := t.TempDir()
	path, err := writeWrapperConfig(dir, 1080)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg wrapperConfig
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.True(t, cfg.AllowInboundListeners)
	assert.True(t, cfg.AllowOutboundLoopback)
	assert.Equal(t, 1080, cfg.SocksPort)
}

func TestComposeEnv_IncludesProjectionAndPrompt(t *testing.T) {
	opts := Options{
		ProjectedEnv: map[string]string{"TELEPRESENCE_POD": "web-abcde"},
		ContextName:  "staging",
	}
	env := composeEnv(opts)

	found := false
	foundPrompt := false
	for _, e := range env {
		if e == "TELEPRESENCE_POD=web-abcde" {
			found = true
		}
		if len(e) > 3 && e[:3] == "PS1" {
			foundPrompt = true
			assert.Contains(t, e, "staging")
		}
	}
	assert.True(t, found)
	assert.True(t, foundPrompt)
}

func TestSetPath_ReplacesExisting(t *testing.T) {
	env := []string{"FOO=bar", "PATH=/usr/bin"}
	out := setPath(env, "/shadow:/usr/bin")

	assert.Contains(t, out, "PATH=/shadow:/usr/bin")
	assert.NotContains(t, out, "PATH=/usr/bin")
}

func TestSetPath_AddsWhenMissing(t *testing.T) {
	env := []string{"FOO=bar"}
	out := setPath(env, "/shadow")
	assert.Contains(t, out, "PATH=/shadow")
}
