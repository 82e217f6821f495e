package topology

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"

	"github.com/datawire/firebreak/internal/host"
	"github.com/datawire/firebreak/pkg/conn"
)

// Topology is a built, running set of hosts and interfaces ready to be
// probed, constructed from a Config.
type Topology struct {
	Hosts        map[string]*host.Host
	Interfaces   map[string]*host.Interface // keyed "hostName/interfaceName"
	ForwardPaths map[string]conn.Path       // keyed "from>to", see cfg.ForwardLinks
}

// Build instantiates every host and interface named in cfg, loads each
// host's nftables rules, enables forwarding where requested, and wires any
// forward links.
func Build(ctx context.Context, cfg *Config) (*Topology, error) {
	t := &Topology{
		Hosts:        make(map[string]*host.Host),
		Interfaces:   make(map[string]*host.Interface),
		ForwardPaths: make(map[string]conn.Path),
	}

	for _, hc := range cfg.Hosts {
		h, err := host.New(ctx, hc.Name)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("building host %s: %w", hc.Name, err)
		}
		t.Hosts[hc.Name] = h

		if hc.EnableForwarding {
			if err := h.EnableForwarding(ctx); err != nil {
				t.Close()
				return nil, fmt.Errorf("building host %s: %w", hc.Name, err)
			}
		}

		for _, ic := range hc.Interfaces {
			addr, network, err := net.ParseCIDR(ic.CIDR)
			if err != nil {
				t.Close()
				return nil, fmt.Errorf("host %s interface %s: parsing cidr %q: %w", hc.Name, ic.Name, ic.CIDR, err)
			}
			network.IP = addr

			iface, err := h.NewInterface(ctx, network)
			if err != nil {
				t.Close()
				return nil, fmt.Errorf("host %s interface %s: %w", hc.Name, ic.Name, err)
			}
			t.Interfaces[hc.Name+"/"+ic.Name] = iface
		}

		if hc.NftRules != "" {
			if err := h.LoadNftRules(ctx, hc.NftRules); err != nil {
				t.Close()
				return nil, fmt.Errorf("building host %s: %w", hc.Name, err)
			}
		}
	}

	for _, link := range cfg.ForwardLinks {
		from, ok := t.Interfaces[link.From]
		if !ok {
			t.Close()
			return nil, fmt.Errorf("forward link: unknown interface %q", link.From)
		}
		to, ok := t.Interfaces[link.To]
		if !ok {
			t.Close()
			return nil, fmt.Errorf("forward link: unknown interface %q", link.To)
		}
		path, err := host.ForwardPath(ctx, from, to)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("forward link %s->%s: %w", link.From, link.To, err)
		}
		t.ForwardPaths[link.From+">"+link.To] = path
	}

	return t, nil
}

// Close tears down every interface and host the topology created,
// aggregating any failures instead of stopping at the first one.
func (t *Topology) Close() error {
	var result *multierror.Error
	for name, iface := range t.Interfaces {
		if err := iface.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing interface %s: %w", name, err))
		}
	}
	for name, h := range t.Hosts {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing host %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
