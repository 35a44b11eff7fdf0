// Package kademlia implements the 160-bit XOR-metric distributed hash
// table: node identifiers, k-bucket routing table, and the DHT node
// that drives iterative lookups, storage, and background maintenance.
package kademlia

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/mr-tron/base58/base58"
)

// NodeID is an opaque 160-bit identifier. Construction is total: any
// byte input is truncated or zero-padded to KeyBytes.
type NodeID [meshwire.KeyBytes]byte

// NewNodeIDFromBytes truncates/pads data to the fixed width.
func NewNodeIDFromBytes(data []byte) NodeID {
	var id NodeID
	if len(data) >= meshwire.KeyBytes {
		copy(id[:], data[:meshwire.KeyBytes])
		return id
	}
	// Zero-pad on the left so short inputs still occupy the low-order bytes.
	copy(id[meshwire.KeyBytes-len(data):], data)
	return id
}

// NewNodeIDFromString hashes s with SHA-1, matching the source's
// string-keyed identifiers (e.g. NodeID(sha1("k")) for DHT keys).
func NewNodeIDFromString(s string) NodeID {
	sum := sha1.Sum([]byte(s))
	return NewNodeIDFromBytes(sum[:])
}

// NewRandomNodeID draws KeyBytes of cryptographically random data.
func NewRandomNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, err
	}
	return id, nil
}

// NewRandomNodeIDInRange draws an id whose XOR distance from self has
// bit-length within [minDistance, maxDistance] — i.e. an id that
// actually falls inside one k-bucket's covered range, for per-bucket
// refresh lookups (§4.4: "lookup a random ID inside its range"). The
// distance's highest set bit is pinned to maxDistance so the result
// always lands in range regardless of the random bits below it.
func NewRandomNodeIDInRange(self NodeID, minDistance, maxDistance int) (NodeID, error) {
	totalBits := meshwire.KeyBytes * 8
	if maxDistance < 0 {
		maxDistance = 0
	}
	if maxDistance > totalBits-1 {
		maxDistance = totalBits - 1
	}
	if minDistance < 0 || minDistance > maxDistance {
		minDistance = maxDistance
	}

	raw := make([]byte, meshwire.KeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return NodeID{}, err
	}
	distance := new(big.Int).SetBytes(raw)

	mask := new(big.Int).Lsh(big.NewInt(1), uint(maxDistance+1))
	mask.Sub(mask, big.NewInt(1))
	distance.And(distance, mask)
	distance.SetBit(distance, maxDistance, 1)

	distanceBytes := make([]byte, meshwire.KeyBytes)
	distance.FillBytes(distanceBytes)

	var out NodeID
	target := new(big.Int).Xor(self.bigInt(), new(big.Int).SetBytes(distanceBytes))
	target.FillBytes(out[:])
	return out, nil
}

// NodeIDFromHex parses the canonical hex display form.
func NodeIDFromHex(s string) (NodeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("kademlia: invalid node id hex: %w", err)
	}
	if len(raw) != meshwire.KeyBytes {
		return NodeID{}, fmt.Errorf("kademlia: node id must be %d bytes, got %d", meshwire.KeyBytes, len(raw))
	}
	return NewNodeIDFromBytes(raw), nil
}

// Bytes returns the raw 20-byte value.
func (id NodeID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// Hex is the canonical display form.
func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Base58 offers an alternate, shorter display form for logs and CLIs,
// following the identity package's encoding convention.
func (id NodeID) Base58() string {
	return base58.Encode(id[:])
}

func (id NodeID) String() string {
	h := id.Hex()
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func (id NodeID) bigInt() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// DistanceTo returns the XOR distance to other as a big-endian integer.
func (id NodeID) DistanceTo(other NodeID) *big.Int {
	var xor NodeID
	for i := range id {
		xor[i] = id[i] ^ other[i]
	}
	return xor.bigInt()
}

// DistanceBytes returns the XOR distance as raw bytes, matching the
// source's distance_bytes helper.
func (id NodeID) DistanceBytes(other NodeID) []byte {
	var xor [meshwire.KeyBytes]byte
	for i := range id {
		xor[i] = id[i] ^ other[i]
	}
	return xor[:]
}

// BitLength returns the 0-indexed position of the highest set bit; a
// zero value (distance 0, i.e. equal IDs) has bit length 0 by convention.
func (id NodeID) BitLength() int {
	bits := id.bigInt().BitLen()
	if bits == 0 {
		return 0
	}
	return bits - 1
}

// Equal reports byte-identity.
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// Less orders two IDs as big-endian integers; used for deterministic
// tie-breaking in find_closest.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}
