package kademlia

import (
	"fmt"
	"math/big"
	"time"

	"github.com/multiformats/go-multiaddr"
)

// NodeInfo is a peer record tracked by the routing table. node_id never
// changes after creation; last_seen and failed_pings are mutated by the
// routing table LRU logic and by heartbeat probing.
type NodeInfo struct {
	NodeID       NodeID
	Host         string
	Port         int
	LastSeen     time.Time
	FailedPings  int
	Capabilities []string
	PublicKey    []byte // hex-decoded identity public key, optional
}

// Endpoint renders the plain http endpoint used for DHT RPCs.
func (n NodeInfo) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}

// Multiaddr normalizes the host/port pair through a multiaddr round-trip
// so DHT peer endpoints are representable in standard multiaddr form
// for components that bridge to a libp2p-style transport.
func (n NodeInfo) Multiaddr() (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", n.Host, n.Port))
}

// DistanceTo is a convenience wrapper mirroring NodeID.DistanceTo.
func (n NodeInfo) DistanceTo(target NodeID) *big.Int {
	return n.NodeID.DistanceTo(target)
}

func cloneNodeInfo(n NodeInfo) NodeInfo {
	caps := append([]string(nil), n.Capabilities...)
	pub := append([]byte(nil), n.PublicKey...)
	n.Capabilities = caps
	n.PublicKey = pub
	return n
}
