package conn

import (
	"context"
	"net"

	"github.com/datawire/firebreak/pkg/netns"
)

// Path is something a probe can be run across: a named source and target
// endpoint, each pinned to a network namespace, with a fixed pair of
// addresses. Collaborators outside this package (internal/host) build
// Paths; this package only consumes them.
type Path interface {
	SourceName() string
	SourceAddr() net.IP
	TargetName() string
	TargetAddr() net.IP
	// Connect runs one probe of spec across the path and classifies the
	// result. It never blocks longer than the coordinator's hard timeout.
	Connect(ctx context.Context, spec Spec) (Effect, error)
}

// osPath is the concrete Path backed by real Linux network namespaces and
// sockets.
type osPath struct {
	sourceName string
	sourceNs   *netns.Ns
	sourceAddr net.IP
	targetName string
	targetNs   *netns.Ns
	targetAddr net.IP
}

// NewPath builds a Path between a named source endpoint and a named target
// endpoint. sourceNs and targetNs may be the same namespace (loopback
// probes) or different ones.
func NewPath(sourceName string, sourceNs *netns.Ns, sourceAddr net.IP, targetName string, targetNs *netns.Ns, targetAddr net.IP) Path {
	return &osPath{
		sourceName: sourceName,
		sourceNs:   sourceNs,
		sourceAddr: sourceAddr,
		targetName: targetName,
		targetNs:   targetNs,
		targetAddr: targetAddr,
	}
}

func (p *osPath) SourceName() string { return p.sourceName }
func (p *osPath) SourceAddr() net.IP { return p.sourceAddr }
func (p *osPath) TargetName() string { return p.targetName }
func (p *osPath) TargetAddr() net.IP { return p.targetAddr }

func (p *osPath) Connect(ctx context.Context, spec Spec) (Effect, error) {
	return connectWithTimeout(ctx, p, spec)
}
