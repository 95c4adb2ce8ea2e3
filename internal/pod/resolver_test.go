package pod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/kubeshell/internal/k8s"
)

func TestImageTag(t *testing.T) {
	cases := []struct {
		image string
		want  string
	}{
		{"example.com/telepresence-k8s:2.0", "2.0"},
		{"example.com/telepresence-k8s", ""},
		{"registry:5000/telepresence-k8s:2.0", "2.0"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, imageTag(c.image))
	}
}

func TestLabelsSuperset(t *testing.T) {
	assert.True(t, labelsSuperset(map[string]string{"app": "web", "env": "dev"}, map[string]string{"app": "web"}))
	assert.False(t, labelsSuperset(map[string]string{"app": "web"}, map[string]string{"app": "web", "env": "dev"}))
	assert.True(t, labelsSuperset(map[string]string{"app": "web"}, nil))
}

func TestSelectPod(t *testing.T) {
	r := &Resolver{}

	pods := []k8s.Pod{
		{
			Name:      "other-abcde",
			Namespace: "default",
			Phase:     "Running",
			Labels:    map[string]string{"app": "web"},
			Spec:      []k8s.ContainerSpec{{Name: "web", Image: "example/web:1.0"}},
		},
		{
			Name:      "web-abcde",
			Namespace: "default",
			Phase:     "Running",
			Labels:    map[string]string{"app": "web"},
			Spec: []k8s.ContainerSpec{
				{Name: "web", Image: "example/web:1.0"},
				{Name: "tp-sidecar", Image: "example/telepresence-k8s:2.0"},
			},
		},
	}

	p, c, err := r.selectPod(pods, map[string]string{"app": "web"}, "web", "default")
	require.NoError(t, err)
	assert.Equal(t, "web-abcde", p.Name)
	assert.Equal(t, "tp-sidecar", c.Name)
}

func TestSelectPod_NoneMatch(t *testing.T) {
	r := &Resolver{}
	_, _, err := r.selectPod(nil, map[string]string{"app": "web"}, "web", "default")
	require.Error(t, err)
}

func TestSelectPod_WrongPhaseExcluded(t *testing.T) {
	r := &Resolver{}
	pods := []k8s.Pod{
		{
			Name:      "web-abcde",
			Namespace: "default",
			Phase:     "Failed",
			Labels:    map[string]string{"app": "web"},
			Spec:      []k8s.ContainerSpec{{Name: "tp-sidecar", Image: "example/telepresence-k8s:2.0"}},
		},
	}
	_, _, err := r.selectPod(pods, map[string]string{"app": "web"}, "web", "default")
	require.Error(t, err)
}
