package chunk

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitReassembleRoundTripOutOfOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 100*1024)
	chunks := Split(payload, 32*1024)
	require.Len(t, chunks, 4)

	r := NewReassembler()
	var result []byte
	var done bool
	var err error
	// Deliver out of order: [2,0,3,1], matching the scenario's arrival order.
	order := []int{2, 0, 3, 1}
	for _, idx := range order {
		result, done, err = r.Accept(chunks[idx], "alice", "bob", "task_delegate", time.Now().UTC())
		require.NoError(t, err)
	}
	require.True(t, done)
	require.Equal(t, payload, result)
}

func TestSplitSingleChunkForSmallPayload(t *testing.T) {
	payload := []byte("small")
	chunks := Split(payload, 32*1024)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 1, chunks[0].TotalChunks)
}

func TestReassembleDeduplicatesRepeatedIndex(t *testing.T) {
	chunks := Split([]byte("hello world this is a test payload"), 8)
	r := NewReassembler()

	now := time.Now().UTC()
	_, done, err := r.Accept(chunks[0], "a", "b", "ping", now)
	require.NoError(t, err)
	require.False(t, done)
	_, done, err = r.Accept(chunks[0], "a", "b", "ping", now) // duplicate
	require.NoError(t, err)
	require.False(t, done)
}

func TestBadChecksumFailsTransfer(t *testing.T) {
	chunks := Split([]byte("hello world this is a test payload"), 8)
	good := chunks[1]
	good.Data = append([]byte(nil), chunks[1].Data...) // independent copy, survives the corruption below
	chunks[1].Data[0] ^= 0xFF                          // corrupt without updating checksum

	r := NewReassembler()
	now := time.Now().UTC()
	_, _, err := r.Accept(chunks[1], "a", "b", "ping", now)
	require.ErrorIs(t, err, ErrChecksumFailed)

	// The rest of the transfer arrives intact, including a correct resend
	// of the chunk that originally failed. None of it should be able to
	// complete the transfer: one bad checksum kills the whole thing.
	for i, c := range chunks {
		if i == 1 {
			c = good
		}
		_, done, err := r.Accept(c, "a", "b", "ping", now)
		require.ErrorIs(t, err, ErrChecksumFailed)
		require.False(t, done)
	}
	require.Equal(t, 0, r.Len())
}

func TestPruneStaleRemovesOldTransfers(t *testing.T) {
	chunks := Split([]byte("hello world this is a test payload"), 8)
	r := NewReassemblerWithStaleAfter(time.Millisecond)

	old := time.Now().UTC().Add(-time.Hour)
	_, _, err := r.Accept(chunks[0], "a", "b", "ping", old)
	require.NoError(t, err)

	removed := r.PruneStale(time.Now().UTC())
	require.Len(t, removed, 1)
	require.Equal(t, 0, r.Len())
}
