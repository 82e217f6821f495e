package host

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomPeerAddrStaysInNetworkAndDiffersFromExclude(t *testing.T) {
	_, network, err := net.ParseCIDR("10.1.2.0/24")
	require.NoError(t, err)
	exclude := net.ParseIP("10.1.2.1").To4()

	for i := 0; i < 100; i++ {
		addr := randomPeerAddr(network, exclude)
		require.False(t, addr.Equal(exclude), "must not reuse the excluded address")
		require.True(t, network.Contains(addr), "must stay within %s, got %s", network, addr)
	}
}

func TestRandomPeerAddrPreservesNetworkBitsV6(t *testing.T) {
	_, network, err := net.ParseCIDR("fd00::/64")
	require.NoError(t, err)
	exclude := net.ParseIP("fd00::1")

	addr := randomPeerAddr(network, exclude)
	require.True(t, network.Contains(addr))
	require.False(t, addr.Equal(exclude))
}
