package peer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/meshcore/agentmesh/internal/message"
)

// ServeHTTP mounts HandleInbound behind the same "/mesh/envelope" path
// HTTPTransport posts to: decode one envelope, run it through the
// dispatch pipeline, and write back whatever reply it produces (empty
// body when there is none).
func (p *PeerService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var env message.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reply, err := p.HandleInbound(r.Context(), &env)
	if err != nil {
		p.logger.Warn("inbound envelope processing failed", "msg_type", env.MsgType, "error", err)
	}
	if reply == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

// ServeStats answers the "/mesh/stats" diagnostics endpoint, the peer
// façade's counterpart to the DHT node's "/dht/stats" (§5 supplement).
func (p *PeerService) ServeStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Stats any `json:"stats"`
		Peers any `json:"peers"`
	}{
		Stats: p.Stats(now),
		Peers: p.PeerRecords(now),
	})
}
