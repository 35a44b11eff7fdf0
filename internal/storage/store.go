// Package storage defines the narrow persistence port the DHT node uses
// to hydrate and snapshot its routing table and stored values. The
// session manager and rate limiter do not use it; their state lives in
// memory only. The in-memory implementation is authoritative; durable
// persistence is an optional adjunct (SPEC_FULL.md §9).
package storage

// RoutingTableSnapshot is a JSON-serializable view of a routing table.
type RoutingTableSnapshot struct {
	Nodes []NodeRecord `json:"nodes"`
}

type NodeRecord struct {
	NodeID       string   `json:"node_id"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	LastSeen     string   `json:"last_seen"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// DHTValuesSnapshot is a JSON-serializable view of the local value store.
type DHTValuesSnapshot struct {
	Values []ValueRecord `json:"values"`
}

type ValueRecord struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	PublisherID string `json:"publisher_id,omitempty"`
	Timestamp   string `json:"timestamp"`
	Expiration  string `json:"expiration"`
}

// Port is the persistence interface shared by C4 (DHT node) and reused
// by any other component that wants a save/load pair of JSON snapshots.
type Port interface {
	SaveRoutingTable(snapshot RoutingTableSnapshot) error
	LoadRoutingTable() (RoutingTableSnapshot, error)
	SaveDHTValues(snapshot DHTValuesSnapshot) error
	LoadDHTValues() (DHTValuesSnapshot, error)
}

// Memory is the default, non-durable implementation: state lives only
// as long as the process does.
type Memory struct {
	routing RoutingTableSnapshot
	values  DHTValuesSnapshot
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SaveRoutingTable(snapshot RoutingTableSnapshot) error {
	m.routing = snapshot
	return nil
}

func (m *Memory) LoadRoutingTable() (RoutingTableSnapshot, error) {
	return m.routing, nil
}

func (m *Memory) SaveDHTValues(snapshot DHTValuesSnapshot) error {
	m.values = snapshot
	return nil
}

func (m *Memory) LoadDHTValues() (DHTValuesSnapshot, error) {
	return m.values, nil
}
