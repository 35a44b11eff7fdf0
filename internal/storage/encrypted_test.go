package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptedRoutingTableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := NewEncrypted(filepath.Join(dir, "routing.enc"), filepath.Join(dir, "values.enc"), "correct-horse-battery-staple")

	snapshot := RoutingTableSnapshot{Nodes: []NodeRecord{
		{NodeID: "abc123", Host: "10.0.0.1", Port: 9001, LastSeen: "2026-01-01T00:00:00Z"},
	}}
	require.NoError(t, e.SaveRoutingTable(snapshot))

	loaded, err := e.LoadRoutingTable()
	require.NoError(t, err)
	require.Equal(t, snapshot, loaded)
}

func TestEncryptedLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	e := NewEncrypted(filepath.Join(dir, "missing-routing.enc"), filepath.Join(dir, "missing-values.enc"), "secret")

	loaded, err := e.LoadRoutingTable()
	require.NoError(t, err)
	require.Empty(t, loaded.Nodes)
}

func TestEncryptedValuesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := NewEncrypted(filepath.Join(dir, "routing.enc"), filepath.Join(dir, "values.enc"), "another-secret")

	snapshot := DHTValuesSnapshot{Values: []ValueRecord{
		{Key: "deadbeef", Value: "cafebabe", Timestamp: "2026-01-01T00:00:00Z", Expiration: "2026-01-02T00:00:00Z"},
	}}
	require.NoError(t, e.SaveDHTValues(snapshot))

	loaded, err := e.LoadDHTValues()
	require.NoError(t, err)
	require.Equal(t, snapshot, loaded)
}
