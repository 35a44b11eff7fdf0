package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryRoutingTableRoundTrip(t *testing.T) {
	m := NewMemory()
	snapshot := RoutingTableSnapshot{Nodes: []NodeRecord{
		{NodeID: "abc123", Host: "127.0.0.1", Port: 9000, LastSeen: "2026-01-01T00:00:00Z"},
	}}

	require.NoError(t, m.SaveRoutingTable(snapshot))
	loaded, err := m.LoadRoutingTable()
	require.NoError(t, err)
	require.Equal(t, snapshot, loaded)
}

func TestMemoryDHTValuesRoundTrip(t *testing.T) {
	m := NewMemory()
	snapshot := DHTValuesSnapshot{Values: []ValueRecord{
		{Key: "deadbeef", Value: "cafebabe", Timestamp: "2026-01-01T00:00:00Z", Expiration: "2026-01-02T00:00:00Z"},
	}}

	require.NoError(t, m.SaveDHTValues(snapshot))
	loaded, err := m.LoadDHTValues()
	require.NoError(t, err)
	require.Equal(t, snapshot, loaded)
}

func TestMemoryLoadBeforeSaveIsEmpty(t *testing.T) {
	m := NewMemory()
	loaded, err := m.LoadRoutingTable()
	require.NoError(t, err)
	require.Empty(t, loaded.Nodes)
}
