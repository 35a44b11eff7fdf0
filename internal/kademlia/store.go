package kademlia

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/meshcore/agentmesh/internal/storage"
)

// ValueEntry is a single DHT-stored record, keyed uniquely by Key. A
// later Store for the same key replaces the entry.
type ValueEntry struct {
	Key         []byte
	Value       []byte
	Timestamp   time.Time
	PublisherID *NodeID
	Expiration  time.Time
}

func (e ValueEntry) IsExpired(now time.Time) bool {
	return now.After(e.Expiration)
}

// valueStore is the DHT node's local (key -> ValueEntry) map, with a
// configurable TTL and an optional durable-persistence adjunct.
type valueStore struct {
	mu   sync.RWMutex
	data map[string]ValueEntry
	ttl  time.Duration
}

func newValueStore(ttl time.Duration) *valueStore {
	if ttl <= 0 {
		ttl = meshwire.DefaultValueTTL
	}
	return &valueStore{data: make(map[string]ValueEntry), ttl: ttl}
}

func (s *valueStore) put(key, value []byte, publisher *NodeID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = ValueEntry{
		Key:         append([]byte(nil), key...),
		Value:       append([]byte(nil), value...),
		Timestamp:   now,
		PublisherID: publisher,
		Expiration:  now.Add(s.ttl),
	}
}

// get returns the entry for key, or ok=false if absent or expired. An
// expired entry is garbage-collected on this read (lazy GC, §4.4).
func (s *valueStore) get(key []byte, now time.Time) (ValueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.data[string(key)]
	if !ok {
		return ValueEntry{}, false
	}
	if entry.IsExpired(now) {
		delete(s.data, string(key))
		return ValueEntry{}, false
	}
	return entry, true
}

// sweepExpired removes every expired entry; used by the background
// expiry loop.
func (s *valueStore) sweepExpired(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for k, entry := range s.data {
		if entry.IsExpired(now) {
			delete(s.data, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// publishedBy returns all entries whose publisher is self, for the
// republish loop.
func (s *valueStore) publishedBy(self NodeID) []ValueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ValueEntry
	for _, entry := range s.data {
		if entry.PublisherID != nil && entry.PublisherID.Equal(self) {
			out = append(out, entry)
		}
	}
	return out
}

func (s *valueStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *valueStore) snapshot() storage.DHTValuesSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := storage.DHTValuesSnapshot{Values: make([]storage.ValueRecord, 0, len(s.data))}
	for _, entry := range s.data {
		rec := storage.ValueRecord{
			Key:       hex.EncodeToString(entry.Key),
			Value:     hex.EncodeToString(entry.Value),
			Timestamp: entry.Timestamp.UTC().Format(time.RFC3339),
			Expiration: entry.Expiration.UTC().Format(time.RFC3339),
		}
		if entry.PublisherID != nil {
			rec.PublisherID = entry.PublisherID.Hex()
		}
		out.Values = append(out.Values, rec)
	}
	return out
}

func (s *valueStore) restore(snapshot storage.DHTValuesSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range snapshot.Values {
		key, err := hex.DecodeString(rec.Key)
		if err != nil {
			continue
		}
		value, err := hex.DecodeString(rec.Value)
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		exp, err := time.Parse(time.RFC3339, rec.Expiration)
		if err != nil {
			exp = ts.Add(s.ttl)
		}
		var publisher *NodeID
		if rec.PublisherID != "" {
			if id, err := NodeIDFromHex(rec.PublisherID); err == nil {
				publisher = &id
			}
		}
		s.data[string(key)] = ValueEntry{
			Key: key, Value: value, Timestamp: ts, PublisherID: publisher, Expiration: exp,
		}
	}
}
