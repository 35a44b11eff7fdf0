package kademlia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoutingTableAddAndFindClosest(t *testing.T) {
	self, err := NewRandomNodeID()
	require.NoError(t, err)
	rt := NewRoutingTable(self)

	var added []NodeInfo
	for i := 0; i < 15; i++ {
		id, err := NewRandomNodeID()
		require.NoError(t, err)
		n := NodeInfo{NodeID: id, Host: "127.0.0.1", Port: 9000 + i}
		require.True(t, rt.Add(n))
		added = append(added, n)
	}

	target := added[0].NodeID
	closest := rt.FindClosest(target, 5)
	require.Len(t, closest, 5)
	require.True(t, closest[0].NodeID.Equal(target), "the target itself should be its own closest match")
}

func TestRoutingTableIgnoresSelf(t *testing.T) {
	self, err := NewRandomNodeID()
	require.NoError(t, err)
	rt := NewRoutingTable(self)

	require.True(t, rt.Add(NodeInfo{NodeID: self, Host: "127.0.0.1", Port: 1}))
	require.Empty(t, rt.AllNodes())
}

func TestRoutingTableSplitsOnOverflowNearSelf(t *testing.T) {
	var selfRaw [20]byte
	self := NewNodeIDFromBytes(selfRaw[:])
	rt := NewRoutingTableSized(self, 2)

	// All of these differ from self (all zero) only in the last byte
	// (values 1..5), so they land in the bucket that covers self and
	// trigger a split once it exceeds k=2.
	for i := byte(1); i <= 5; i++ {
		raw := [20]byte{}
		raw[19] = i
		n := NodeInfo{NodeID: NewNodeIDFromBytes(raw[:]), Host: "127.0.0.1", Port: 9000 + int(i)}
		rt.Add(n)
	}

	stats := rt.Stats()
	require.Greater(t, stats.Buckets, 1)
	require.Equal(t, 5, stats.TotalNodes)
}

// TestRoutingTableSingleBitBucketDropsInsteadOfSplitting guards against
// a bucket whose range has narrowed to a single bit (min == max)
// attempting to split again: two distinct node ids that share the same
// XOR-distance bit-length from self are indistinguishable to Split's
// bit-length-based partitioning, so once their shared bucket is down to
// one bit, splitting it forever produces the same [min,min] range.
// Add must drop the overflowing node instead of recursing forever.
func TestRoutingTableSingleBitBucketDropsInsteadOfSplitting(t *testing.T) {
	var selfRaw [20]byte
	selfRaw[19] = 8 // self = 8 (0b1000), BitLength() == 3
	self := NewNodeIDFromBytes(selfRaw[:])
	rt := NewRoutingTableSized(self, 1)

	var nodeARaw, nodeBRaw [20]byte
	nodeARaw[19] = 0 // distance to self = 8^0 = 8,  bit-length 3
	nodeBRaw[19] = 1 // distance to self = 8^1 = 9,  bit-length 3
	nodeA := NodeInfo{NodeID: NewNodeIDFromBytes(nodeARaw[:]), Host: "127.0.0.1", Port: 9001}
	nodeB := NodeInfo{NodeID: NewNodeIDFromBytes(nodeBRaw[:]), Host: "127.0.0.1", Port: 9002}

	require.True(t, rt.Add(nodeA))

	done := make(chan bool, 1)
	go func() { done <- rt.Add(nodeB) }()

	select {
	case added := <-done:
		require.False(t, added, "bucket is full and cannot split further, so the new node must be dropped")
	case <-time.After(5 * time.Second):
		t.Fatal("Add did not return: likely recursing forever on a single-bit bucket")
	}

	require.Equal(t, 1, rt.Stats().TotalNodes)
}

func TestRoutingTableStatsCountsAllNodes(t *testing.T) {
	self, err := NewRandomNodeID()
	require.NoError(t, err)
	rt := NewRoutingTable(self)

	for i := 0; i < 5; i++ {
		id, err := NewRandomNodeID()
		require.NoError(t, err)
		rt.Add(NodeInfo{NodeID: id, Host: "127.0.0.1", Port: 9000 + i})
	}

	stats := rt.Stats()
	require.Equal(t, 5, stats.TotalNodes)
}
