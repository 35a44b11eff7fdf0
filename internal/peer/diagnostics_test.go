package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatsAndPeerRecordsReflectHandshake(t *testing.T) {
	transport := &loopTransport{peers: make(map[string]*PeerService)}
	alice := newTestPeer(t, "alice", transport)
	bob := newTestPeer(t, "bob", transport)
	transport.peers["alice-addr"] = alice
	transport.peers["bob-addr"] = bob

	_, err := alice.InitiateHandshake(context.Background(), "bob", "bob-addr")
	require.NoError(t, err)
	alice.RegisterPeerAddress("bob", "bob-addr")

	now := time.Now().UTC()
	stats := alice.Stats(now)
	require.Equal(t, 1, stats.SessionCount)
	require.Equal(t, 1, stats.ReadySessionCount)

	records := alice.PeerRecords(now)
	require.Len(t, records, 1)
	require.Equal(t, "bob", records[0].EntityID)
	require.True(t, records[0].Healthy)
}
