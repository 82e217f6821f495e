package conn

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// udpTransport implements the UDP probe: the server binds and waits for
// exactly one cookie-sized datagram; the client connects a socket to the
// target (so the kernel will surface an ICMP port-unreachable as
// ECONNREFUSED) and sends the cookie.
type udpTransport struct{}

func (udpTransport) bindServer(target net.IP, port uint16) (io.Closer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: target, Port: int(port)})
	if err != nil {
		return nil, fmt.Errorf("udp listen %s:%d: %w", target, port, err)
	}
	return conn, nil
}

func (udpTransport) server(ctx context.Context, bound io.Closer) (serverOutcome, error) {
	conn := bound.(*net.UDPConn)

	type recvResult struct {
		cookie cookie
		n      int
		addr   *net.UDPAddr
		err    error
	}
	received := make(chan recvResult, 1)
	go func() {
		// One byte of headroom, so an oversized datagram shows up as
		// n > cookieSize instead of being truncated to a cookie.
		var buf [cookieSize + 1]byte
		n, addr, err := conn.ReadFromUDP(buf[:])
		var c cookie
		copy(c[:], buf[:])
		received <- recvResult{cookie: c, n: n, addr: addr, err: err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		<-received
		return serverOutcome{}, ctx.Err()
	case r := <-received:
		if r.err != nil {
			return serverOutcome{}, fmt.Errorf("udp read: %w", r.err)
		}
		if r.n != cookieSize {
			// The reference implementation treats a datagram that isn't
			// exactly one cookie long as an unrecoverable protocol
			// violation rather than a classifiable outcome.
			panic(fmt.Sprintf("conn: received malformed UDP datagram of %d bytes, want %d", r.n, cookieSize))
		}
		return serverOutcome{cookie: r.cookie, peerAddr: r.addr.IP}, nil
	}
}

func (udpTransport) client(ctx context.Context, source, target net.IP, port uint16) (clientOutcome, error) {
	c, err := newCookie()
	if err != nil {
		return clientOutcome{}, err
	}

	conn, err := net.DialUDP("udp", &net.UDPAddr{IP: source}, &net.UDPAddr{IP: target, Port: int(port)})
	if err != nil {
		if isRefused(err) {
			return clientOutcome{refused: true}, nil
		}
		return clientOutcome{}, fmt.Errorf("udp dial %s:%d: %w", target, port, err)
	}
	defer conn.Close()

	if _, err := conn.Write(c[:]); err != nil {
		if isRefused(err) {
			return clientOutcome{refused: true}, nil
		}
		return clientOutcome{}, fmt.Errorf("udp write cookie: %w", err)
	}

	// A connected UDP socket doesn't learn about an ICMP port-unreachable
	// until something queries it; there is no "send result" to wait on, so
	// poll the pending socket error the same way the reference
	// implementation's take_error() does.
	if err := pendingSocketError(conn); err != nil {
		if isRefused(err) {
			return clientOutcome{refused: true}, nil
		}
		return clientOutcome{}, fmt.Errorf("udp pending error: %w", err)
	}

	return clientOutcome{cookie: c}, nil
}

func pendingSocketError(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("udp syscall conn: %w", err)
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		errno, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			sockErr = err
			return
		}
		if errno != 0 {
			sockErr = syscall.Errno(errno)
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("udp getsockopt control: %w", ctrlErr)
	}
	return sockErr
}
