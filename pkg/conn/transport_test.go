package conn

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// freeClosedPort returns a TCP/UDP port that is guaranteed to have nothing
// listening on it at the moment the caller dials it: bind, read the kernel
// assigned port back, then close.
func freeClosedPort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}

func TestTCPClientRefusedOnClosedPort(t *testing.T) {
	port := freeClosedPort(t)
	loopback := net.IPv4(127, 0, 0, 1)

	status, err := tcpTransport{}.client(context.Background(), loopback, loopback, port)
	require.NoError(t, err)
	require.True(t, status.refused, "dialing a closed TCP port should be classified as refused")
}

func TestUDPClientRefusedOnClosedPort(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := ln.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, ln.Close())

	loopback := net.IPv4(127, 0, 0, 1)
	status, err := udpTransport{}.client(context.Background(), loopback, loopback, uint16(port))
	require.NoError(t, err)
	require.True(t, status.refused, "sending to a closed UDP port should be classified as refused")
}
