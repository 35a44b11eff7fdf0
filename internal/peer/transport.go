package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/meshcore/agentmesh/internal/message"
	"github.com/meshcore/agentmesh/internal/queue"
)

// Transport delivers one envelope to a peer's address and classifies
// the outcome for the retry policy. The DHT RPCs (§6) cover peer
// discovery; Transport covers the separate envelope-delivery path this
// façade drives sessions and handshakes over.
type Transport interface {
	Deliver(ctx context.Context, addr string, env *message.Envelope) (queue.FailureKind, error)
	// Exchange delivers env and returns the peer's immediate reply
	// envelope, if any. The six-step handshake rides this request/reply
	// pattern rather than two independent Deliver calls.
	Exchange(ctx context.Context, addr string, env *message.Envelope) (*message.Envelope, queue.FailureKind, error)
}

// HTTPTransport POSTs the canonical envelope JSON to "<addr>/mesh/envelope".
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client}
}

func (t *HTTPTransport) Deliver(ctx context.Context, addr string, env *message.Envelope) (queue.FailureKind, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return queue.FailureTerminal, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/mesh/envelope", bytes.NewReader(body))
	if err != nil {
		return queue.FailureTerminal, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return queue.FailureRetryable, err
	}
	defer resp.Body.Close()

	kind := queue.ClassifyHTTPStatus(resp.StatusCode)
	if kind != queue.FailureNone {
		return kind, fmt.Errorf("peer: delivery to %s failed with status %d", addr, resp.StatusCode)
	}
	return queue.FailureNone, nil
}

// Exchange POSTs env and decodes the response body as the peer's reply
// envelope. An empty (zero-length) body is not an error: some steps
// (e.g. the closing ready message) have no reply.
func (t *HTTPTransport) Exchange(ctx context.Context, addr string, env *message.Envelope) (*message.Envelope, queue.FailureKind, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, queue.FailureTerminal, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/mesh/envelope", bytes.NewReader(body))
	if err != nil {
		return nil, queue.FailureTerminal, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, queue.FailureRetryable, err
	}
	defer resp.Body.Close()

	kind := queue.ClassifyHTTPStatus(resp.StatusCode)
	if kind != queue.FailureNone {
		return nil, kind, fmt.Errorf("peer: exchange with %s failed with status %d", addr, resp.StatusCode)
	}

	var reply message.Envelope
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		if err == io.EOF {
			return nil, queue.FailureNone, nil
		}
		return nil, queue.FailureTerminal, err
	}
	return &reply, queue.FailureNone, nil
}
