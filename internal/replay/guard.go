// Package replay implements the (nonce, timestamp) sliding-window
// replay protector described in SPEC_FULL.md §4.6: a message is
// accepted only once within the acceptance window, after which its
// nonce is remembered until the window's garbage-collection horizon
// passes.
package replay

import (
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

// Guard tracks (nonce -> first_seen) across all sessions. A single Guard
// is shared by the whole node; callers key nonces however their wire
// format requires (§6 envelopes carry a hex nonce string).
type Guard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	acceptWin time.Duration
	gcAfter   time.Duration
	lastSweep time.Time
}

func NewGuard() *Guard {
	return NewGuardWithWindows(meshwire.DefaultReplayWindow, meshwire.DefaultReplayGCInterval)
}

func NewGuardWithWindows(acceptWindow, gcAfter time.Duration) *Guard {
	if acceptWindow <= 0 {
		acceptWindow = meshwire.DefaultReplayWindow
	}
	if gcAfter <= 0 {
		gcAfter = meshwire.DefaultReplayGCInterval
	}
	return &Guard{
		seen:      make(map[string]time.Time),
		acceptWin: acceptWindow,
		gcAfter:   gcAfter,
		lastSweep: time.Now().UTC(),
	}
}

// Accept reports whether (nonce, timestamp) is fresh: the timestamp must
// be within acceptWindow of now, and the nonce must not already be
// recorded. A rejected message is never written to the seen set, so a
// still-out-of-window resend keeps being rejected rather than accepted
// once its original entry expires.
func (g *Guard) Accept(nonce string, timestamp time.Time, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSweep) >= g.gcAfter {
		g.sweepLocked(now)
	}

	age := now.Sub(timestamp)
	if age < 0 {
		age = -age
	}
	if age > g.acceptWin {
		return false
	}
	if _, dup := g.seen[nonce]; dup {
		return false
	}
	g.seen[nonce] = timestamp
	return true
}

func (g *Guard) sweepLocked(now time.Time) {
	for nonce, ts := range g.seen {
		if now.Sub(ts) > g.gcAfter {
			delete(g.seen, nonce)
		}
	}
	g.lastSweep = now
}

// Len reports the number of currently-tracked nonces, for diagnostics.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
