package kademlia

import (
	"time"

	"github.com/meshcore/agentmesh/internal/storage"
)

// Snapshot renders every tracked node as a storage.RoutingTableSnapshot,
// for the node's bootstrap-time load / shutdown-time save cycle.
func (rt *RoutingTable) Snapshot() storage.RoutingTableSnapshot {
	nodes := rt.AllNodes()
	out := storage.RoutingTableSnapshot{Nodes: make([]storage.NodeRecord, 0, len(nodes))}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, storage.NodeRecord{
			NodeID:       n.NodeID.Hex(),
			Host:         n.Host,
			Port:         n.Port,
			LastSeen:     n.LastSeen.UTC().Format(time.RFC3339),
			Capabilities: n.Capabilities,
		})
	}
	return out
}

// Restore re-adds every node from a previously saved snapshot. Entries
// with an unparsable node id are skipped rather than aborting the load.
func (rt *RoutingTable) Restore(snapshot storage.RoutingTableSnapshot) {
	for _, rec := range snapshot.Nodes {
		id, err := NodeIDFromHex(rec.NodeID)
		if err != nil {
			continue
		}
		lastSeen, err := time.Parse(time.RFC3339, rec.LastSeen)
		if err != nil {
			lastSeen = time.Now().UTC()
		}
		rt.Add(NodeInfo{
			NodeID:       id,
			Host:         rec.Host,
			Port:         rec.Port,
			LastSeen:     lastSeen,
			Capabilities: rec.Capabilities,
		})
	}
}
