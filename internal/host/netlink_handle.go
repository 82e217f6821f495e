package host

import (
	"fmt"
	"os"

	"github.com/vishvananda/netlink"
	vishnetns "github.com/vishvananda/netns"

	"github.com/datawire/firebreak/pkg/netns"
)

// handleFor opens a netlink handle scoped to ns's namespace. The returned
// closer releases both the handle and the namespace file descriptor it
// holds open; callers must call it exactly once.
func handleFor(ns *netns.Ns) (*netlink.Handle, func(), error) {
	f, err := os.Open(ns.Path())
	if err != nil {
		return nil, nil, fmt.Errorf("opening namespace %s: %w", ns.Path(), err)
	}

	handle, err := netlink.NewHandleAt(vishnetns.NsHandle(int(f.Fd())))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("opening netlink handle for %s: %w", ns.Path(), err)
	}

	return handle, func() {
		handle.Close()
		f.Close()
	}, nil
}

// nsHandleFile opens a raw, caller-owned file descriptor referencing ns,
// suitable for passing to netlink.Handle.LinkSetNsFd.
func nsHandleFile(ns *netns.Ns) (*os.File, error) {
	f, err := os.Open(ns.Path())
	if err != nil {
		return nil, fmt.Errorf("opening namespace %s: %w", ns.Path(), err)
	}
	return f, nil
}
