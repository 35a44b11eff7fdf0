// Package queue implements the outbound send retry policy (§4.13) as a
// pure, clock-free state machine: (attempts, next_delay, last_error)
// advanced by a step function, plus the outbound send queue that drives
// it against the network.
package queue

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

// FailureKind classifies a send failure as retryable or terminal.
type FailureKind string

const (
	FailureNone      FailureKind = "none"
	FailureRetryable FailureKind = "retryable" // network errors, 5xx, 429
	FailureTerminal  FailureKind = "terminal"  // 4xx except 429
)

// Config tunes the backoff curve.
type Config struct {
	BaseDelay  time.Duration
	MaxRetries int
	Rand       *rand.Rand
}

func (c *Config) normalize() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = meshwire.DefaultRetryBaseDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = meshwire.DefaultMaxRetries
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(1))
	}
}

// State is the retry policy's entire mutable footprint: attempts made,
// the delay to wait before the next one, and the most recent error.
type State struct {
	Attempts  int
	NextDelay time.Duration
	LastError error
	Exhausted bool
}

var ErrSendFailed = errors.New("queue: send failed, retries exhausted")

// Controller advances State via pure Decide calls; it holds no network
// handle and performs no I/O itself.
type Controller struct {
	cfg Config
}

func NewController(cfg Config) *Controller {
	cfg.normalize()
	return &Controller{cfg: cfg}
}

// Decide advances state given the outcome of the most recent attempt.
// kind == FailureNone means the send succeeded; callers should stop
// retrying and discard the state. A FailureTerminal outcome stops
// retrying immediately regardless of attempts remaining.
func (c *Controller) Decide(state State, kind FailureKind, err error) State {
	if kind == FailureNone {
		return State{}
	}
	state.Attempts++
	state.LastError = err

	if kind == FailureTerminal {
		state.Exhausted = true
		return state
	}

	if state.Attempts >= c.cfg.MaxRetries {
		state.Exhausted = true
		if state.LastError == nil {
			state.LastError = ErrSendFailed
		} else {
			state.LastError = fmt.Errorf("%w: %v", ErrSendFailed, state.LastError)
		}
		return state
	}

	state.NextDelay = nextBackoff(state.Attempts, c.cfg.BaseDelay, c.cfg.Rand)
	return state
}

// nextBackoff computes base_delay * 2^attempt with +/-25% jitter,
// matching §4.13's "base_delay · 2^attempt with jitter".
func nextBackoff(attempt int, base time.Duration, rnd *rand.Rand) time.Duration {
	value := float64(base) * math.Pow(2, float64(attempt))
	jitter := value * 0.25
	low := value - jitter
	high := value + jitter
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rnd.Float64()*(high-low))
}

// ClassifyHTTPStatus maps an HTTP-like status code to a FailureKind,
// per §4.13: retryable on network/5xx/429, terminal on other 4xx.
func ClassifyHTTPStatus(status int) FailureKind {
	switch {
	case status == 0: // connection-level failure, no status received
		return FailureRetryable
	case status == 429:
		return FailureRetryable
	case status >= 500:
		return FailureRetryable
	case status >= 400:
		return FailureTerminal
	default:
		return FailureNone
	}
}
