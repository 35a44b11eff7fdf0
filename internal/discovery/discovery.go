// Package discovery wraps a kademlia.Node with the peer-discovery
// behaviors of spec.md §4.15: self-announce, periodic random walk,
// random peer sampling, and new-peer callbacks.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/kademlia"
	"github.com/meshcore/agentmesh/internal/meshwire"
)

// NewPeerCallback is invoked once, the first time a node_id is observed
// in the routing table.
type NewPeerCallback func(kademlia.NodeInfo)

// Config configures a Service. Zero values fall back to spec defaults.
type Config struct {
	RandomWalkInterval time.Duration
	Logger             *slog.Logger
}

func (c *Config) normalize() {
	if c.RandomWalkInterval <= 0 {
		c.RandomWalkInterval = meshwire.DefaultRandomWalkInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// selfRecord is the JSON shape announced into the DHT under key =
// H(self_id), so other nodes resolving that key learn how to reach us.
type selfRecord struct {
	NodeID       string   `json:"node_id"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Service is the discovery layer sitting on top of a kademlia.Node: it
// never touches the wire itself, it drives the node's own Store/
// FindNode/Bootstrap RPCs (§4.15).
type Service struct {
	node   *kademlia.Node
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	seen      map[kademlia.NodeID]struct{}
	callbacks []NewPeerCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wraps node. The node must already be constructed (and,
// typically, started) independently — discovery only adds behavior on
// top of it, it does not own the node's lifecycle.
func NewService(node *kademlia.Node, cfg Config) *Service {
	cfg.normalize()
	return &Service{
		node:   node,
		cfg:    cfg,
		logger: cfg.Logger,
		seen:   make(map[kademlia.NodeID]struct{}),
	}
}

// OnNewPeer registers a callback fired once per first observation of a
// node_id, whether learned via bootstrap, a DHT lookup reply, or the
// random walk.
func (s *Service) OnNewPeer(cb NewPeerCallback) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// AnnounceKey derives the DHT key a node's self-record is published
// under: H(self_id).
func AnnounceKey(id kademlia.NodeID) []byte {
	sum := sha256.Sum256(id.Bytes())
	return sum[:]
}

// Announce stores the local node's reachability info in the DHT under
// AnnounceKey(self_id), with the local node itself as publisher so the
// background replicate loop keeps it fresh (§4.4, §4.15).
func (s *Service) Announce(ctx context.Context) error {
	self := s.node.Self()
	record := selfRecord{
		NodeID:       self.NodeID.Hex(),
		Host:         self.Host,
		Port:         self.Port,
		Capabilities: self.Capabilities,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("discovery: encode self record: %w", err)
	}
	_, err = s.node.Store(ctx, AnnounceKey(self.NodeID), value, &self.NodeID)
	return err
}

// Start launches the periodic random walk and begins watching the
// routing table for newly observed peers. It does not block.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.noteNewPeers()

	s.wg.Add(1)
	go s.randomWalkLoop(ctx)
}

// Stop ends the background random walk. It does not stop the
// underlying kademlia.Node.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Service) randomWalkLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RandomWalkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RandomWalk(ctx); err != nil {
				s.logger.Warn("random walk failed", "error", err)
			}
		}
	}
}

// RandomWalk generates a random target id and runs find_node against
// it, diversifying the routing table beyond whatever buckets ordinary
// traffic happens to touch.
func (s *Service) RandomWalk(ctx context.Context) error {
	target, err := kademlia.NewRandomNodeID()
	if err != nil {
		return fmt.Errorf("discovery: generate random walk target: %w", err)
	}
	if _, err := s.node.FindNode(ctx, target); err != nil {
		return err
	}
	s.noteNewPeers()
	return nil
}

// GetRandomPeers returns an n-shuffle of the routing table, capped at
// the table's current size.
func (s *Service) GetRandomPeers(n int) []kademlia.NodeInfo {
	all := s.node.RoutingTable().AllNodes()
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if n < len(all) {
		all = all[:n]
	}
	s.noteNewPeers()
	return all
}

// noteNewPeers diffs the routing table against the set of node ids
// already observed, firing OnNewPeer callbacks for anything new.
func (s *Service) noteNewPeers() {
	all := s.node.RoutingTable().AllNodes()

	s.mu.Lock()
	var fresh []kademlia.NodeInfo
	for _, n := range all {
		if _, ok := s.seen[n.NodeID]; !ok {
			s.seen[n.NodeID] = struct{}{}
			fresh = append(fresh, n)
		}
	}
	callbacks := append([]NewPeerCallback(nil), s.callbacks...)
	s.mu.Unlock()

	for _, n := range fresh {
		for _, cb := range callbacks {
			cb(n)
		}
	}
}
