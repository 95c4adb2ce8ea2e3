package k8s

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kubeshell/internal/runner"
)

// fakeKubectl writes a tiny shell script standing in for kubectl that
// dispatches on its first argument, used to exercise the Gateway
// without a real cluster.
func fakeKubectl(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kubectl")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func newTestGateway(t *testing.T, script string) *Gateway {
	var buf bytes.Buffer
	run := runner.New(&buf, zerolog.Nop())
	bin := fakeKubectl(t, script)
	return New(run, zerolog.Nop(), bin)
}

func TestGateway_GetWorkloadSpec(t *testing.T) {
	const podJSON = `{
		"spec": {
			"template": {
				"metadata": {"labels": {"app": "web"}},
				"spec": {"containers": [
					{"name": "web", "image": "example/web:1.0", "env": [{"name": "BAR"}]},
					{"name": "tp-sidecar", "image": "example/telepresence-k8s:2.0", "env": []}
				]}
			}
		}
	}`
	gw := newTestGateway(t, `
if [ "$1" = "get" ]; then
  cat <<'EOF'
`+podJSON+`
EOF
fi
`)

	spec, err := gw.GetWorkloadSpec(context.Background(), "default", "web")
	require.NoError(t, err)
	require.Equal(t, "web", spec.PodLabels["app"])
	require.Len(t, spec.Containers, 2)
	require.Equal(t, []string{"BAR"}, spec.Env["web"])
}

func TestGateway_ListPods(t *testing.T) {
	const listJSON = `{
		"items": [
			{
				"metadata": {"name": "web-abcde", "namespace": "default", "labels": {"app": "web"}},
				"spec": {"containers": [{"name": "web", "image": "example/web:1.0"}]},
				"status": {"phase": "Running", "containerStatuses": [{"name": "web", "ready": true}]}
			}
		]
	}`
	gw := newTestGateway(t, `
if [ "$1" = "get" ]; then
  cat <<'EOF'
`+listJSON+`
EOF
fi
`)

	pods, err := gw.ListPods(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	require.Equal(t, "web-abcde", pods[0].Name)
	require.True(t, pods[0].Containers[0].Ready)
}

func TestGateway_DeleteWorkloadIgnoresNotFound(t *testing.T) {
	gw := newTestGateway(t, `exit 0`)
	err := gw.DeleteWorkload(context.Background(), "default", "dev")
	require.NoError(t, err)
}

func TestGateway_CreateWorkloadPropagatesFailure(t *testing.T) {
	gw := newTestGateway(t, `
if [ "$1" = "run" ]; then
  echo "boom" >&2
  exit 1
fi
exit 0
`)
	err := gw.CreateWorkload(context.Background(), "default", "dev", "example/telepresence-k8s:2.0", nil)
	require.Error(t, err)
}
