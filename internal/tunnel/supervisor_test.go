package tunnel

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreePort_ReturnsUsablePort(t *testing.T) {
	port, err := freePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	// The port should be immediately bindable again.
	l, err := net.Listen("tcp", "127.0.0.1:"+itoa(port))
	require.NoError(t, err)
	defer l.Close()
}

func TestSSHBaseArgs_HasRequiredFlags(t *testing.T) {
	args := sshBaseArgs(2222)
	joined := ""
	for _, a := range args {
		joined += a + " "
	}
	assert.Contains(t, joined, "StrictHostKeyChecking=no")
	assert.Contains(t, joined, "UserKnownHostsFile=/dev/null")
	assert.Contains(t, joined, "ServerAliveInterval=1")
	assert.Contains(t, joined, "ServerAliveCountMax=3")
	assert.Contains(t, joined, "-N")
	assert.Contains(t, joined, "root@localhost")
}

func TestReverseForwardSpec(t *testing.T) {
	assert.Equal(t, "*:8080:127.0.0.1:8080", itoa2(8080, 8080))
}

func TestSocksForwardSpec(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9999:127.0.0.1:9050", itoa3(9999, inPodSocksPort))
}
