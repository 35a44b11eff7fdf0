// Package chunk implements the chunked-transfer layer (§4.10): splitting
// an oversized serialized message into ordered, checksummed pieces, and
// reassembling them on receipt regardless of arrival order.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

var (
	ErrChecksumFailed  = errors.New("chunk: checksum failed")
	ErrIndexOutOfRange = errors.New("chunk: index out of range")
	ErrUnknownTransfer = errors.New("chunk: unknown transfer")
)

// Chunk is one piece of a split payload, with a non-cryptographic
// dedup checksum (§9: "duplicate-detection aid, not integrity check" —
// authenticity is the envelope signature's job, not this checksum's).
type Chunk struct {
	TransferID  string
	ChunkIndex  int
	TotalChunks int
	Data        []byte
	Checksum    string
}

// Checksum is the 16-hex-char SHA-256 prefix of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Split divides payload into ceil(len/chunkSize) chunks, each carrying
// its own checksum. Returns a single chunk (index 0, total 1) if
// payload fits within one chunk.
func Split(payload []byte, chunkSize int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = meshwire.DefaultChunkSize
	}
	transferID := uuid.NewString()
	total := (len(payload) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		data := append([]byte(nil), payload[start:end]...)
		chunks = append(chunks, Chunk{
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: total,
			Data:        data,
			Checksum:    Checksum(data),
		})
	}
	return chunks
}

// Verify reports whether c.Checksum matches c.Data.
func (c Chunk) Verify() bool {
	return c.Checksum == Checksum(c.Data)
}

// transfer is the receiver-side in-progress reassembly buffer for one
// transfer_id.
type transfer struct {
	sender      string
	recipient   string
	msgType     string
	totalChunks int
	chunks      map[int][]byte
	createdAt   time.Time
}

// Reassembler tracks every in-flight chunked transfer this node is
// receiving, pruning stale ones older than staleAfter (§4.10, default 1h).
type Reassembler struct {
	mu         sync.Mutex
	transfers  map[string]*transfer
	failed     map[string]time.Time
	staleAfter time.Duration
}

func NewReassembler() *Reassembler {
	return NewReassemblerWithStaleAfter(meshwire.DefaultChunkStaleAfter)
}

func NewReassemblerWithStaleAfter(staleAfter time.Duration) *Reassembler {
	if staleAfter <= 0 {
		staleAfter = meshwire.DefaultChunkStaleAfter
	}
	return &Reassembler{
		transfers:  make(map[string]*transfer),
		failed:     make(map[string]time.Time),
		staleAfter: staleAfter,
	}
}

// Accept ingests one chunk. It returns (payload, true, nil) once the
// transfer completes, (nil, false, nil) while still incomplete, and a
// non-nil error (ErrChecksumFailed or ErrIndexOutOfRange) on a bad chunk.
// Per §8 property 7, one wrong checksum fails the *whole* transfer, not
// just that chunk: the transfer's buffer is discarded and its id is
// marked failed, so any later chunk — correct or not — for that same
// transfer_id is rejected rather than allowed to complete the transfer.
func (r *Reassembler) Accept(c Chunk, sender, recipient, innerMsgType string, now time.Time) ([]byte, bool, error) {
	if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
		return nil, false, ErrIndexOutOfRange
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dead := r.failed[c.TransferID]; dead {
		return nil, false, ErrChecksumFailed
	}

	if !c.Verify() {
		delete(r.transfers, c.TransferID)
		r.failed[c.TransferID] = now
		return nil, false, ErrChecksumFailed
	}

	t, ok := r.transfers[c.TransferID]
	if !ok {
		t = &transfer{
			sender: sender, recipient: recipient, msgType: innerMsgType,
			totalChunks: c.TotalChunks, chunks: make(map[int][]byte), createdAt: now,
		}
		r.transfers[c.TransferID] = t
	}

	if _, dup := t.chunks[c.ChunkIndex]; !dup {
		t.chunks[c.ChunkIndex] = c.Data
	}

	if len(t.chunks) < t.totalChunks {
		return nil, false, nil
	}

	payload := make([]byte, 0)
	for i := 0; i < t.totalChunks; i++ {
		payload = append(payload, t.chunks[i]...)
	}
	delete(r.transfers, c.TransferID)
	return payload, true, nil
}

// PruneStale removes every transfer (in-progress or failed) whose
// createdAt predates now by more than staleAfter; in-progress ones
// surface nothing (silent drop, §4.10).
func (r *Reassembler) PruneStale(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, t := range r.transfers {
		if now.Sub(t.createdAt) > r.staleAfter {
			delete(r.transfers, id)
			removed = append(removed, id)
		}
	}
	for id, at := range r.failed {
		if now.Sub(at) > r.staleAfter {
			delete(r.failed, id)
		}
	}
	return removed
}

func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}
