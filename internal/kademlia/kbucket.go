package kademlia

import (
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

// KBucket is a bounded, LRU-ordered container of peer records covering
// one distance range [minDistance, maxDistance] of bit positions.
// Operations never block and never return an error; bucket operations
// are infallible by design (§4.2).
type KBucket struct {
	mu          sync.Mutex
	minDistance int
	maxDistance int
	k           int
	nodes       []NodeInfo // newest-first; tail is least-recently-seen
	lastUpdated time.Time
}

func NewKBucket(minDistance, maxDistance int) *KBucket {
	return NewKBucketSized(minDistance, maxDistance, meshwire.BucketSize)
}

func NewKBucketSized(minDistance, maxDistance, k int) *KBucket {
	if k <= 0 {
		k = meshwire.BucketSize
	}
	return &KBucket{
		minDistance: minDistance,
		maxDistance: maxDistance,
		k:           k,
		lastUpdated: time.Now().UTC(),
	}
}

func (b *KBucket) Range() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.minDistance, b.maxDistance
}

func (b *KBucket) LastUpdated() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdated
}

func (b *KBucket) Contains(id NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexOfLocked(id) >= 0
}

func (b *KBucket) indexOfLocked(id NodeID) int {
	for i, n := range b.nodes {
		if n.NodeID.Equal(id) {
			return i
		}
	}
	return -1
}

// Add inserts node at the head (most-recently-seen). If node is already
// present it is moved to the head instead of duplicated. Returns false
// only when the bucket is full and node is not already a member; the
// caller then owns the split-or-evict decision.
func (b *KBucket) Add(node NodeInfo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if idx := b.indexOfLocked(node.NodeID); idx >= 0 {
		b.nodes = append(b.nodes[:idx], b.nodes[idx+1:]...)
		b.nodes = append([]NodeInfo{cloneNodeInfo(node)}, b.nodes...)
		b.lastUpdated = time.Now().UTC()
		return true
	}

	if len(b.nodes) < b.k {
		b.nodes = append([]NodeInfo{cloneNodeInfo(node)}, b.nodes...)
		b.lastUpdated = time.Now().UTC()
		return true
	}

	return false
}

func (b *KBucket) Remove(id NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.indexOfLocked(id)
	if idx < 0 {
		return false
	}
	b.nodes = append(b.nodes[:idx], b.nodes[idx+1:]...)
	return true
}

// LeastRecentlySeen returns the tail element, the candidate for a
// liveness check before eviction.
func (b *KBucket) LeastRecentlySeen() (NodeInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.nodes) == 0 {
		return NodeInfo{}, false
	}
	return cloneNodeInfo(b.nodes[len(b.nodes)-1]), true
}

func (b *KBucket) Nodes() []NodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]NodeInfo, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = cloneNodeInfo(n)
	}
	return out
}

func (b *KBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

// Split partitions the bucket at its midpoint bit. Every node goes to
// the half whose range contains the bit-position of node.DistanceTo(self);
// the two halves are disjoint and together cover the parent's range.
func (b *KBucket) Split(self NodeID) (*KBucket, *KBucket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mid := (b.minDistance + b.maxDistance) / 2
	left := NewKBucketSized(b.minDistance, mid, b.k)
	right := NewKBucketSized(mid+1, b.maxDistance, b.k)

	for _, node := range b.nodes {
		distance := NewNodeIDFromBytes(node.NodeID.DistanceBytes(self))
		if distance.BitLength() <= mid {
			left.Add(node)
		} else {
			right.Add(node)
		}
	}
	return left, right
}
