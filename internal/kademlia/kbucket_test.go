package kademlia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testNode(t *testing.T, seed byte) NodeInfo {
	t.Helper()
	var raw [20]byte
	raw[0] = seed
	return NodeInfo{NodeID: NewNodeIDFromBytes(raw[:]), Host: "127.0.0.1", Port: 9000 + int(seed), LastSeen: time.Now().UTC()}
}

func TestKBucketAddMovesExistingToHead(t *testing.T) {
	b := NewKBucket(0, 159)
	n1 := testNode(t, 1)
	n2 := testNode(t, 2)

	require.True(t, b.Add(n1))
	require.True(t, b.Add(n2))
	require.True(t, b.Add(n1)) // re-seen, moves to head

	nodes := b.Nodes()
	require.Len(t, nodes, 2)
	require.True(t, nodes[0].NodeID.Equal(n1.NodeID))
}

func TestKBucketFullReturnsFalse(t *testing.T) {
	b := NewKBucketSized(0, 159, 2)
	require.True(t, b.Add(testNode(t, 1)))
	require.True(t, b.Add(testNode(t, 2)))
	require.False(t, b.Add(testNode(t, 3)))
}

func TestKBucketLeastRecentlySeenIsTail(t *testing.T) {
	b := NewKBucket(0, 159)
	n1 := testNode(t, 1)
	n2 := testNode(t, 2)
	b.Add(n1)
	b.Add(n2)

	lru, ok := b.LeastRecentlySeen()
	require.True(t, ok)
	require.True(t, lru.NodeID.Equal(n1.NodeID))
}

func TestKBucketSplitPartitionsByDistanceToSelf(t *testing.T) {
	var selfRaw [20]byte
	self := NewNodeIDFromBytes(selfRaw[:])

	b := NewKBucketSized(0, 159, 20)
	for i := byte(1); i <= 10; i++ {
		b.Add(testNode(t, i))
	}

	left, right := b.Split(self)
	lo, hi := left.Range()
	require.Equal(t, 0, lo)
	rlo, rhi := right.Range()
	require.Equal(t, hi+1, rlo)
	require.Equal(t, 159, rhi)

	for _, n := range left.Nodes() {
		dist := NewNodeIDFromBytes(n.NodeID.DistanceBytes(self))
		require.LessOrEqual(t, dist.BitLength(), hi)
	}
	for _, n := range right.Nodes() {
		dist := NewNodeIDFromBytes(n.NodeID.DistanceBytes(self))
		require.GreaterOrEqual(t, dist.BitLength(), rlo)
	}
	require.Equal(t, 10, left.Len()+right.Len())
}
