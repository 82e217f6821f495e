package host

import (
	"crypto/rand"
	"net"
)

// randomPeerAddr picks a uniformly random address inside network that is
// not exclude, preserving the network's own bits and randomizing only the
// host bits — the same rejection-sampling approach
// original_source/src/host/mod.rs uses to place a peer address next to an
// interface's own address.
func randomPeerAddr(network *net.IPNet, exclude net.IP) net.IP {
	hostmask := make(net.IPMask, len(network.Mask))
	for i, b := range network.Mask {
		hostmask[i] = ^b
	}

	candidate := make(net.IP, len(network.IP))
	for {
		if _, err := rand.Read(candidate); err != nil {
			// crypto/rand.Read only fails if the OS RNG is unusable, which
			// is not a condition this package can recover from.
			panic(err)
		}
		for i := range candidate {
			candidate[i] = (candidate[i] & hostmask[i]) | (network.IP[i] & network.Mask[i])
		}
		if !candidate.Equal(exclude) {
			return append(net.IP(nil), candidate...)
		}
	}
}
