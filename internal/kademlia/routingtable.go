package kademlia

import (
	"sort"
	"sync"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

// RoutingTable is the ordered, non-overlapping set of buckets spanning
// [0, KeyBits-1], owned by a specific self id. Mutations are funneled
// through the table's own lock (the "single-writer per routing table"
// discipline named in SPEC_FULL.md §9); callers never need a coarser lock.
type RoutingTable struct {
	mu      sync.RWMutex
	selfID  NodeID
	k       int
	buckets []*KBucket
}

func NewRoutingTable(selfID NodeID) *RoutingTable {
	return NewRoutingTableSized(selfID, meshwire.BucketSize)
}

func NewRoutingTableSized(selfID NodeID, k int) *RoutingTable {
	if k <= 0 {
		k = meshwire.BucketSize
	}
	return &RoutingTable{
		selfID:  selfID,
		k:       k,
		buckets: []*KBucket{NewKBucketSized(0, meshwire.KeyBits-1, k)},
	}
}

func (rt *RoutingTable) SelfID() NodeID {
	return rt.selfID
}

// bucketIndexLocked returns the bucket index covering distance's bit
// position, or -1 when distance is negative.
func (rt *RoutingTable) bucketIndexLocked(distance int) int {
	if distance < 0 {
		return -1
	}
	for i, b := range rt.buckets {
		lo, hi := b.Range()
		if lo <= distance && distance <= hi {
			return i
		}
	}
	return len(rt.buckets) - 1
}

// Add inserts node into the table, splitting the owning bucket when it
// is full and covers self's own bit position, per §4.3.
func (rt *RoutingTable) Add(node NodeInfo) bool {
	distance := rt.selfID.DistanceTo(node.NodeID)
	if distance.Sign() == 0 {
		return true // self, no-op
	}
	bitPos := NewNodeIDFromBytes(rt.selfID.DistanceBytes(node.NodeID)).BitLength()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.addLocked(node, bitPos)
}

func (rt *RoutingTable) addLocked(node NodeInfo, bitPos int) bool {
	idx := rt.bucketIndexLocked(bitPos)
	if idx < 0 {
		return true
	}
	bucket := rt.buckets[idx]
	if bucket.Add(node) {
		return true
	}

	lo, hi := bucket.Range()
	selfBit := rt.selfID.BitLength()
	if lo < hi && lo <= selfBit && selfBit <= hi {
		left, right := bucket.Split(rt.selfID)
		rt.buckets[idx] = left
		rt.buckets = append(rt.buckets[:idx+1], append([]*KBucket{right}, rt.buckets[idx+1:]...)...)
		return rt.addLocked(node, bitPos)
	}
	// A single-bit-wide bucket (lo == hi) can't be split any further;
	// once it's full of nodes sharing that exact distance from self, a
	// new node at the same distance is simply dropped, per §4.3's normal
	// "bucket full, not the self-spanning case" behavior.
	return false
}

func (rt *RoutingTable) Remove(id NodeID) bool {
	bitPos := NewNodeIDFromBytes(rt.selfID.DistanceBytes(id)).BitLength()
	rt.mu.RLock()
	idx := rt.bucketIndexLocked(bitPos)
	rt.mu.RUnlock()
	if idx < 0 {
		return false
	}
	return rt.buckets[idx].Remove(id)
}

// FindClosest scans all buckets and returns the count nodes closest to
// target, ties broken lexicographically on node id bytes.
func (rt *RoutingTable) FindClosest(target NodeID, count int) []NodeInfo {
	rt.mu.RLock()
	all := make([]NodeInfo, 0)
	for _, b := range rt.buckets {
		all = append(all, b.Nodes()...)
	}
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		di := all[i].NodeID.DistanceTo(target)
		dj := all[j].NodeID.DistanceTo(target)
		switch di.Cmp(dj) {
		case -1:
			return true
		case 1:
			return false
		default:
			return all[i].NodeID.Less(all[j].NodeID)
		}
	})
	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

func (rt *RoutingTable) AllNodes() []NodeInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]NodeInfo, 0)
	for _, b := range rt.buckets {
		out = append(out, b.Nodes()...)
	}
	return out
}

// Buckets returns a read-only snapshot of bucket handles for background
// refresh scheduling; it never exposes the internal slice directly.
func (rt *RoutingTable) Buckets() []*KBucket {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*KBucket, len(rt.buckets))
	copy(out, rt.buckets)
	return out
}

type Stats struct {
	TotalNodes  int   `json:"total_nodes"`
	Buckets     int   `json:"buckets"`
	BucketSizes []int `json:"bucket_sizes"`
}

func (rt *RoutingTable) Stats() Stats {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	sizes := make([]int, len(rt.buckets))
	total := 0
	for i, b := range rt.buckets {
		sizes[i] = b.Len()
		total += sizes[i]
	}
	return Stats{TotalNodes: total, Buckets: len(rt.buckets), BucketSizes: sizes}
}
