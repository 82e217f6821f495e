package host

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/datawire/firebreak/pkg/netns"
)

// Interface is one end of a veth pair attached to a Host, with its peer end
// living in its own small namespace standing in for "whatever is on the
// other side of the wire" — the external initiator that input/output path
// probes exercise.
type Interface struct {
	Name    string
	host    *Host
	addr    net.IP
	network *net.IPNet

	peerNs   *netns.Ns
	peerName string
	peerAddr net.IP
}

func linkName() string {
	return "fb" + uuid.NewString()[:8]
}

// NewInterface attaches a new interface to h with address addrWithNet (its
// IP and prefix length/mask), and creates a peer namespace holding the
// other end of the veth pair, addressed with a random other host address in
// the same network.
func (h *Host) NewInterface(ctx context.Context, addrWithNet *net.IPNet) (*Interface, error) {
	networkAddr := addrWithNet.IP.Mask(addrWithNet.Mask)
	network := &net.IPNet{IP: networkAddr, Mask: addrWithNet.Mask}
	peerAddr := randomPeerAddr(network, addrWithNet.IP)

	peerNs, err := netns.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("interface on %s: creating peer namespace: %w", h.Name, err)
	}
	if err := peerNs.ScopedProcess(ctx, "ip", "link", "set", "lo", "up"); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: enabling peer loopback: %w", h.Name, err)
	}

	name, peerName := linkName(), linkName()

	hostHandle, closeHostHandle, err := handleFor(h.ns)
	if err != nil {
		peerNs.Close()
		return nil, err
	}
	defer closeHostHandle()

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: name},
		PeerName:  peerName,
	}
	if err := hostHandle.LinkAdd(veth); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: adding veth %s/%s: %w", h.Name, name, peerName, err)
	}

	peerLink, err := hostHandle.LinkByName(peerName)
	if err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: looking up peer link %s: %w", h.Name, peerName, err)
	}

	peerNsFile, err := nsHandleFile(peerNs)
	if err != nil {
		peerNs.Close()
		return nil, err
	}
	defer peerNsFile.Close()

	if err := hostHandle.LinkSetNsFd(peerLink, int(peerNsFile.Fd())); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: moving %s into peer namespace: %w", h.Name, peerName, err)
	}

	hostLink, err := hostHandle.LinkByName(name)
	if err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: looking up %s: %w", h.Name, name, err)
	}
	if err := addAddr(hostHandle, hostLink, addrWithNet); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: addressing %s: %w", h.Name, name, err)
	}
	if err := hostHandle.LinkSetUp(hostLink); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: bringing up %s: %w", h.Name, name, err)
	}

	peerHandle, closePeerHandle, err := handleFor(peerNs)
	if err != nil {
		peerNs.Close()
		return nil, err
	}
	defer closePeerHandle()

	peerLinkInPeerNs, err := peerHandle.LinkByName(peerName)
	if err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: looking up moved peer link %s: %w", h.Name, peerName, err)
	}
	peerAddrWithNet := &net.IPNet{IP: peerAddr, Mask: addrWithNet.Mask}
	if err := addAddr(peerHandle, peerLinkInPeerNs, peerAddrWithNet); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: addressing peer %s: %w", h.Name, peerName, err)
	}
	if err := peerHandle.LinkSetUp(peerLinkInPeerNs); err != nil {
		peerNs.Close()
		return nil, fmt.Errorf("interface on %s: bringing up peer %s: %w", h.Name, peerName, err)
	}

	return &Interface{
		Name:     name,
		host:     h,
		addr:     addrWithNet.IP,
		network:  network,
		peerNs:   peerNs,
		peerName: peerName,
		peerAddr: peerAddr,
	}, nil
}

// addAddr assigns addr to link via handle, disabling IPv6 duplicate address
// detection the way "ip address add ... nodad" does — DAD has nothing to
// detect on a point-to-point veth link and only adds latency before the
// address becomes usable.
func addAddr(handle *netlink.Handle, link netlink.Link, addr *net.IPNet) error {
	nlAddr := &netlink.Addr{IPNet: addr}
	if addr.IP.To4() == nil {
		nlAddr.Flags |= unix.IFA_F_NODAD
	}
	if err := handle.AddrAdd(link, nlAddr); err != nil {
		return fmt.Errorf("adding address %s: %w", addr, err)
	}
	return nil
}

// Addr is the interface's own address on the host side.
func (i *Interface) Addr() net.IP { return i.addr }

// PeerAddr is the address of the simulated external peer on the other end
// of the veth pair.
func (i *Interface) PeerAddr() net.IP { return i.peerAddr }

// Network is the prefix shared by Addr and PeerAddr.
func (i *Interface) Network() *net.IPNet { return i.network }

// Close tears down the interface's peer namespace. The host-side veth end
// is destroyed automatically by the kernel once its peer is gone.
func (i *Interface) Close() error {
	return i.peerNs.Close()
}
