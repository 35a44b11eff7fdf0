package storage

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/meshcore/agentmesh/internal/securestore"
)

// Encrypted is the optional durable adjunct: it persists both snapshots
// as argon2id/chacha20poly1305-sealed JSON files in the envelope format
// of internal/securestore.
type Encrypted struct {
	mu         sync.Mutex
	routingDir string
	valuesDir  string
	secret     string
}

func NewEncrypted(routingPath, valuesPath, passphrase string) *Encrypted {
	return &Encrypted{routingDir: routingPath, valuesDir: valuesPath, secret: passphrase}
}

func (e *Encrypted) SaveRoutingTable(snapshot RoutingTableSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return securestore.WriteEncryptedJSON(e.routingDir, e.secret, snapshot)
}

func (e *Encrypted) LoadRoutingTable() (RoutingTableSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var snapshot RoutingTableSnapshot
	raw, err := securestore.ReadDecryptedFile(e.routingDir, e.secret)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return RoutingTableSnapshot{}, err
	}
	return snapshot, nil
}

func (e *Encrypted) SaveDHTValues(snapshot DHTValuesSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return securestore.WriteEncryptedJSON(e.valuesDir, e.secret, snapshot)
}

func (e *Encrypted) LoadDHTValues() (DHTValuesSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var snapshot DHTValuesSnapshot
	raw, err := securestore.ReadDecryptedFile(e.valuesDir, e.secret)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return DHTValuesSnapshot{}, err
	}
	return snapshot, nil
}
