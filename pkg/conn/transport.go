package conn

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// transport is the per-protocol half of the probe: how to bind the server
// socket, how to run the server's receive loop, and how to run the
// client's send attempt. The coordinator (see coordinator.go) calls
// bindServer and client inside the relevant namespace's Scoped call and runs
// server on a plain goroutine; the transports do not themselves touch
// namespaces.
type transport interface {
	bindServer(target net.IP, port uint16) (io.Closer, error)
	server(ctx context.Context, bound io.Closer) (serverOutcome, error)
	client(ctx context.Context, source, target net.IP, port uint16) (clientOutcome, error)
}

func transportFor(t Transport) (transport, error) {
	switch t {
	case TCP:
		return tcpTransport{}, nil
	case UDP:
		return udpTransport{}, nil
	default:
		return nil, fmt.Errorf("conn: unknown transport %v", t)
	}
}

func newCookie() (cookie, error) {
	var c cookie
	if _, err := rand.Read(c[:]); err != nil {
		return cookie{}, fmt.Errorf("generating cookie: %w", err)
	}
	return c, nil
}

// isRefused reports whether err is, at any level of wrapping, the kernel's
// "connection refused" answer.
func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func splitIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}
