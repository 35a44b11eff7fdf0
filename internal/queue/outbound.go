package queue

import (
	"context"
	"log/slog"
	"time"
)

// SendFunc performs one send attempt and classifies its outcome.
type SendFunc func(ctx context.Context) (FailureKind, error)

// Job is one outbound send to retry until success, terminal failure, or
// retry exhaustion.
type Job struct {
	PeerID string
	Send   SendFunc
}

// Outbound drives Jobs through a Controller, sleeping between attempts
// according to the pure backoff decisions; it holds no job state beyond
// what is in flight.
type Outbound struct {
	controller *Controller
	logger     *slog.Logger
}

func NewOutbound(cfg Config, logger *slog.Logger) *Outbound {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbound{controller: NewController(cfg), logger: logger}
}

// Run executes job until it succeeds, fails terminally, or exhausts its
// retry budget, honoring ctx cancellation between attempts.
func (o *Outbound) Run(ctx context.Context, job Job) error {
	var state State
	for {
		kind, err := job.Send(ctx)
		state = o.controller.Decide(state, kind, err)

		if kind == FailureNone {
			return nil
		}
		if state.Exhausted {
			o.logger.Warn("send failed, retries exhausted",
				"peer_id", job.PeerID, "attempts", state.Attempts, "error", state.LastError)
			if state.LastError != nil {
				return state.LastError
			}
			return ErrSendFailed
		}

		o.logger.Debug("send attempt failed, retrying",
			"peer_id", job.PeerID, "attempt", state.Attempts, "next_delay", state.NextDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(state.NextDelay):
		}
	}
}
