// Package host builds and wires the ephemeral hosts, interfaces, and
// firewall rule sets that a test topology probes against. It is the
// collaborator the connection-probe engine in pkg/conn consumes through
// the conn.Path interface but does not itself know about.
package host

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/firebreak/pkg/netns"
)

// Host is a virtual machine stand-in: its own network namespace, with
// loopback already up, ready to have interfaces attached and nftables
// rules loaded.
type Host struct {
	Name string
	ns   *netns.Ns
}

// New creates a host with a fresh, empty network namespace.
func New(ctx context.Context, name string) (*Host, error) {
	ns, err := netns.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("host %s: creating namespace: %w", name, err)
	}
	if err := ns.ScopedProcess(ctx, "ip", "link", "set", "lo", "up"); err != nil {
		ns.Close()
		return nil, fmt.Errorf("host %s: enabling loopback: %w", name, err)
	}
	dlog.Debugf(ctx, "host: created %s at %s", name, ns.Path())
	return &Host{Name: name, ns: ns}, nil
}

// Close tears down the host's namespace. Interfaces attached to it become
// unusable.
func (h *Host) Close() error {
	return h.ns.Close()
}

// Namespace exposes the host's namespace handle, e.g. for building a
// conn.Path that targets the host's own loopback interface.
func (h *Host) Namespace() *netns.Ns {
	return h.ns
}

// LoadNftRules loads rules, which must be valid input to "nft -f -", into
// the host's nftables ruleset. The existing ruleset is not flushed first:
// rules add to it unless they flush it themselves.
func (h *Host) LoadNftRules(ctx context.Context, rules string) error {
	if err := h.ns.ScopedProcessWithInput(ctx, []byte(rules), "nft", "-f", "-"); err != nil {
		return fmt.Errorf("host %s: loading nft rules: %w", h.Name, err)
	}
	return nil
}

// ListNftRules dumps the host's active ruleset, mostly useful for test
// diagnostics.
func (h *Host) ListNftRules(ctx context.Context) (string, error) {
	out, err := h.ns.ScopedOutput(ctx, "nft", "list", "ruleset")
	if err != nil {
		return "", fmt.Errorf("host %s: listing nft rules: %w", h.Name, err)
	}
	return string(out), nil
}

// EnableForwarding turns on IPv4 and IPv6 forwarding for the host. Only
// hosts acting as a router between two interfaces (see ForwardPath) need
// this.
func (h *Host) EnableForwarding(ctx context.Context) error {
	if err := h.ns.ScopedProcess(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("host %s: enabling ipv4 forwarding: %w", h.Name, err)
	}
	if err := h.ns.ScopedProcess(ctx, "sysctl", "-w", "net.ipv6.conf.all.forwarding=1"); err != nil {
		return fmt.Errorf("host %s: enabling ipv6 forwarding: %w", h.Name, err)
	}
	return nil
}
