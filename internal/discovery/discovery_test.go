package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcore/agentmesh/internal/kademlia"
)

func startNode(t *testing.T) *kademlia.Node {
	t.Helper()
	id, err := kademlia.NewRandomNodeID()
	require.NoError(t, err)
	node := kademlia.NewNode(kademlia.Config{Host: "127.0.0.1", Port: 0, NodeID: id})
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(func() { _ = node.Stop(context.Background()) })
	return node
}

func TestAnnounceAndGetRandomPeers(t *testing.T) {
	seed := startNode(t)
	joiner := startNode(t)
	require.NoError(t, joiner.Bootstrap(context.Background(), []kademlia.NodeInfo{seed.Self()}))

	svc := NewService(joiner, Config{})
	require.NoError(t, svc.Announce(context.Background()))

	value, ok := seed.LocalValue(AnnounceKey(joiner.Self().NodeID))
	require.True(t, ok)
	require.Contains(t, string(value), joiner.Self().NodeID.Hex())

	peers := svc.GetRandomPeers(10)
	require.NotEmpty(t, peers)
}

func TestRandomWalkDiversifiesRoutingTable(t *testing.T) {
	seed := startNode(t)
	joiner := startNode(t)
	require.NoError(t, joiner.Bootstrap(context.Background(), []kademlia.NodeInfo{seed.Self()}))

	svc := NewService(joiner, Config{})
	require.NoError(t, svc.RandomWalk(context.Background()))
	require.NotEmpty(t, joiner.RoutingTable().AllNodes())
}

func TestOnNewPeerFiresOncePerNode(t *testing.T) {
	seed := startNode(t)
	joiner := startNode(t)

	svc := NewService(joiner, Config{})
	seen := make(chan kademlia.NodeID, 10)
	svc.OnNewPeer(func(n kademlia.NodeInfo) { seen <- n.NodeID })

	require.NoError(t, joiner.Bootstrap(context.Background(), []kademlia.NodeInfo{seed.Self()}))
	svc.noteNewPeers()

	var first kademlia.NodeID
	select {
	case first = <-seen:
	case <-time.After(time.Second):
		t.Fatal("expected a new-peer callback after bootstrap")
	}
	require.True(t, first.Equal(seed.Self().NodeID))

	// A second scan with no new nodes must not refire the callback.
	svc.noteNewPeers()
	select {
	case n := <-seen:
		t.Fatalf("unexpected duplicate new-peer callback for %s", n.Hex())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetRandomPeersCapsAtN(t *testing.T) {
	seed := startNode(t)
	a := startNode(t)
	b := startNode(t)
	require.NoError(t, a.Bootstrap(context.Background(), []kademlia.NodeInfo{seed.Self()}))
	require.NoError(t, b.Bootstrap(context.Background(), []kademlia.NodeInfo{seed.Self()}))

	svc := NewService(seed, Config{})
	peers := svc.GetRandomPeers(1)
	require.Len(t, peers, 1)
}
