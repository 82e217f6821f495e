package host

import (
	"context"
	"fmt"

	"github.com/datawire/firebreak/pkg/conn"
)

// InputPath builds a probe path from the interface's simulated external
// peer into the host — the path a probe takes when testing the host's
// ingress (INPUT chain) rules on this interface.
func (i *Interface) InputPath() conn.Path {
	return conn.NewPath("peer/"+i.Name, i.peerNs, i.peerAddr, i.host.Name, i.host.ns, i.addr)
}

// OutputPath builds a probe path from the host out through the interface
// to its simulated external peer — the path a probe takes when testing the
// host's egress (OUTPUT chain) rules on this interface.
func (i *Interface) OutputPath() conn.Path {
	return conn.NewPath(i.host.Name, i.host.ns, i.addr, "peer/"+i.Name, i.peerNs, i.peerAddr)
}

// ForwardPath builds a probe path between the external peers of two
// interfaces, routed through the intermediate router host that owns both
// interfaces — the path a probe
// takes when testing the router's FORWARD chain rules. The router must
// already have forwarding enabled (see Host.EnableForwarding).
func ForwardPath(ctx context.Context, from, to *Interface) (conn.Path, error) {
	if err := from.peerNs.ScopedProcess(ctx, "ip", "route", "add", "default", "via", from.addr.String()); err != nil {
		return nil, fmt.Errorf("routing peer/%s toward router: %w", from.Name, err)
	}
	if err := to.peerNs.ScopedProcess(ctx, "ip", "route", "add", "default", "via", to.addr.String()); err != nil {
		return nil, fmt.Errorf("routing peer/%s toward router: %w", to.Name, err)
	}
	return conn.NewPath("peer/"+from.Name, from.peerNs, from.peerAddr, "peer/"+to.Name, to.peerNs, to.peerAddr), nil
}
