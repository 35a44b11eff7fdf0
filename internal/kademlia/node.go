package kademlia

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/meshcore/agentmesh/internal/storage"
	"golang.org/x/sync/errgroup"
)

var ErrBootstrapFailed = errors.New("kademlia: every bootstrap endpoint was unreachable")

// Config configures a Node. Zero values fall back to the spec defaults.
type Config struct {
	Host                  string
	Port                  int
	NodeID                NodeID
	K                     int
	Alpha                 int
	ReplicationFactor     int
	ValueTTL              time.Duration
	BucketRefreshInterval time.Duration
	RPCTimeout            time.Duration
	Persistence           storage.Port
	Logger                *slog.Logger
}

func (c *Config) normalize() {
	if c.K <= 0 {
		c.K = meshwire.BucketSize
	}
	if c.Alpha <= 0 {
		c.Alpha = meshwire.Alpha
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = meshwire.ReplicationFactor
	}
	if c.ValueTTL <= 0 {
		c.ValueTTL = meshwire.DefaultValueTTL
	}
	if c.BucketRefreshInterval <= 0 {
		c.BucketRefreshInterval = meshwire.DefaultBucketRefreshInterval
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = meshwire.DefaultRPCTimeout
	}
	if c.Persistence == nil {
		c.Persistence = storage.NewMemory()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Node is a Kademlia DHT participant: it owns a routing table, a local
// value store with TTL, an HTTP RPC surface, and the bootstrap/refresh/
// replicate/expiry background tasks (§4.4).
type Node struct {
	cfg     Config
	self    NodeInfo
	table   *RoutingTable
	values  *valueStore
	client  *rpcClient
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewNode(cfg Config) *Node {
	cfg.normalize()
	self := NodeInfo{NodeID: cfg.NodeID, Host: cfg.Host, Port: cfg.Port, LastSeen: time.Now().UTC()}
	n := &Node{
		cfg:    cfg,
		self:   self,
		table:  NewRoutingTableSized(cfg.NodeID, cfg.K),
		values: newValueStore(cfg.ValueTTL),
		logger: cfg.Logger,
	}
	n.client = newRPCClient(self, cfg.RPCTimeout)
	return n
}

func (n *Node) Self() NodeInfo       { return n.self }
func (n *Node) RoutingTable() *RoutingTable { return n.table }

// Start begins serving the DHT RPCs on cfg.Host:cfg.Port and launches
// the refresh/replicate/expiry background loops. It does not bootstrap;
// call Bootstrap explicitly once Start returns.
func (n *Node) Start(ctx context.Context) error {
	n.hydrate()

	mux := http.NewServeMux()
	mux.HandleFunc("/dht/ping", n.handlePing)
	mux.HandleFunc("/dht/store", n.handleStore)
	mux.HandleFunc("/dht/find_node", n.handleFindNode)
	mux.HandleFunc("/dht/find_value", n.handleFindValue)
	mux.HandleFunc("/dht/stats", n.handleStats)
	mux.HandleFunc("/dht/nodes", n.handleNodes)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.self.Host, n.self.Port))
	if err != nil {
		return err
	}
	n.self.Port = ln.Addr().(*net.TCPAddr).Port
	n.client = newRPCClient(n.self, n.cfg.RPCTimeout)

	n.server = &http.Server{Handler: mux}
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		_ = n.server.Serve(ln)
	}()

	n.wg.Add(3)
	go n.refreshLoop(runCtx)
	go n.replicateLoop(runCtx)
	go n.expiryLoop(runCtx)

	n.logger.Info("kademlia node started", "node_id", n.self.NodeID.Hex(), "endpoint", n.self.Endpoint())
	return nil
}

// Stop cancels background loops, shuts down the HTTP server, and
// persists the current routing table and value store through
// cfg.Persistence so a restart can resume without a cold bootstrap.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
	}
	var err error
	if n.server != nil {
		err = n.server.Shutdown(ctx)
	}
	n.wg.Wait()
	n.persist()
	return err
}

// hydrate loads a previously saved routing table and value store, if
// cfg.Persistence holds any. A fresh Memory persistence port yields
// empty snapshots and is a no-op.
func (n *Node) hydrate() {
	if snapshot, err := n.cfg.Persistence.LoadRoutingTable(); err != nil {
		n.logger.Warn("routing table load failed", "error", err)
	} else {
		n.table.Restore(snapshot)
	}
	if snapshot, err := n.cfg.Persistence.LoadDHTValues(); err != nil {
		n.logger.Warn("dht value store load failed", "error", err)
	} else {
		n.values.restore(snapshot)
	}
}

func (n *Node) persist() {
	if err := n.cfg.Persistence.SaveRoutingTable(n.table.Snapshot()); err != nil {
		n.logger.Warn("routing table save failed", "error", err)
	}
	if err := n.cfg.Persistence.SaveDHTValues(n.values.snapshot()); err != nil {
		n.logger.Warn("dht value store save failed", "error", err)
	}
}

// Bootstrap pings each known endpoint; for each reachable one, it
// announces itself and runs find_node(self) to populate the routing
// table. At least one success is required to avoid ErrBootstrapFailed.
func (n *Node) Bootstrap(ctx context.Context, endpoints []NodeInfo) error {
	n.logger.Info("kademlia bootstrap starting", "endpoints", len(endpoints))
	failures := 0
	reached := false
	for _, ep := range endpoints {
		ok, err := n.client.ping(ctx, ep)
		if err != nil || !ok {
			failures++
			n.logger.Debug("bootstrap ping failed", "endpoint", ep.Endpoint(), "error", err)
			continue
		}
		n.table.Add(ep)
		reached = true
		if _, err := n.client.findNode(ctx, ep, n.self.NodeID); err != nil {
			n.logger.Debug("bootstrap announce failed", "endpoint", ep.Endpoint(), "error", err)
		}
	}
	if !reached {
		return ErrBootstrapFailed
	}
	if _, err := n.FindNode(ctx, n.self.NodeID); err != nil {
		n.logger.Debug("bootstrap self-lookup failed", "error", err)
	}
	_ = failures
	return nil
}

// Ping probes node directly, independent of the routing table.
func (n *Node) Ping(ctx context.Context, node NodeInfo) (bool, error) {
	return n.client.ping(ctx, node)
}

// Store saves key/value locally, then replicates to the closest
// replication_factor nodes (excluding self). Success requires at least
// replication_factor total holders, including self.
func (n *Node) Store(ctx context.Context, key, value []byte, publisher *NodeID) (bool, error) {
	pub := n.self.NodeID
	if publisher != nil {
		pub = *publisher
	}
	n.values.put(key, value, &pub, time.Now().UTC())

	target := NewNodeIDFromBytes(key)
	closest := n.table.FindClosest(target, n.cfg.ReplicationFactor)

	holders := 1
	for _, node := range closest {
		if node.NodeID.Equal(n.self.NodeID) {
			continue
		}
		ok, err := n.client.store(ctx, node, key, value, pub)
		if err != nil {
			n.logger.Debug("replication store failed", "peer", node.Endpoint(), "error", err)
			continue
		}
		if ok {
			holders++
		}
	}
	return holders >= n.cfg.ReplicationFactor, nil
}

// FindNode runs the iterative Kademlia lookup for target, returning the
// final closest-k set once a round yields no strictly closer node or
// every node in the closest-k has been queried.
func (n *Node) FindNode(ctx context.Context, target NodeID) ([]NodeInfo, error) {
	queried := map[NodeID]bool{n.self.NodeID: true}
	closest := n.table.FindClosest(target, n.cfg.Alpha)

	toQuery := nextBatch(closest, queried, n.cfg.Alpha)
	for len(toQuery) > 0 {
		for _, node := range toQuery {
			queried[node.NodeID] = true
		}

		g, gctx := errgroup.WithContext(ctx)
		resultsCh := make(chan []NodeInfo, len(toQuery))
		for _, node := range toQuery {
			node := node
			g.Go(func() error {
				nodes, err := n.client.findNode(gctx, node, target)
				if err != nil {
					n.logger.Debug("find_node query failed", "peer", node.Endpoint(), "error", err)
					resultsCh <- nil
					return nil
				}
				resultsCh <- nodes
				return nil
			})
		}
		_ = g.Wait()
		close(resultsCh)

		for nodes := range resultsCh {
			for _, node := range nodes {
				n.table.Add(node)
			}
		}

		newClosest := n.table.FindClosest(target, n.cfg.K)
		if sameNodeSet(newClosest, closest) {
			closest = newClosest
			break
		}
		closest = newClosest
		toQuery = nextBatch(closest, queried, n.cfg.Alpha)
	}
	return closest, nil
}

// FindValue mirrors FindNode except any contacted node holding the
// value short-circuits the lookup.
func (n *Node) FindValue(ctx context.Context, key []byte) ([]byte, error) {
	if entry, ok := n.values.get(key, time.Now().UTC()); ok {
		return entry.Value, nil
	}

	target := NewNodeIDFromBytes(key)
	closest, err := n.FindNode(ctx, target)
	if err != nil {
		return nil, err
	}

	limit := n.cfg.Alpha
	if limit > len(closest) {
		limit = len(closest)
	}
	for _, node := range closest[:limit] {
		if node.NodeID.Equal(n.self.NodeID) {
			continue
		}
		result, err := n.client.findValue(ctx, node, key)
		if err != nil {
			n.logger.Debug("find_value query failed", "peer", node.Endpoint(), "error", err)
			continue
		}
		if result.Value != nil {
			return result.Value, nil
		}
	}
	return nil, nil
}

func (n *Node) LocalValue(key []byte) ([]byte, bool) {
	entry, ok := n.values.get(key, time.Now().UTC())
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

func (n *Node) Stats() map[string]any {
	return map[string]any{
		"node_id":          n.self.NodeID.Hex(),
		"endpoint":         n.self.Endpoint(),
		"routing_table":    n.table.Stats(),
		"storage_entries":  n.values.len(),
	}
}

func nextBatch(candidates []NodeInfo, queried map[NodeID]bool, alpha int) []NodeInfo {
	out := make([]NodeInfo, 0, alpha)
	for _, c := range candidates {
		if queried[c.NodeID] {
			continue
		}
		out = append(out, c)
		if len(out) >= alpha {
			break
		}
	}
	return out
}

func sameNodeSet(a, b []NodeInfo) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[NodeID]bool, len(a))
	for _, n := range a {
		seen[n.NodeID] = true
	}
	for _, n := range b {
		if !seen[n.NodeID] {
			return false
		}
	}
	return true
}

// ===== HTTP Handlers =====

func (n *Node) handlePing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if nodeID, host, port, ok := parseNodeParams(q); ok {
		n.table.Add(NodeInfo{NodeID: nodeID, Host: host, Port: port, LastSeen: time.Now().UTC()})
	}
	writeJSON(w, http.StatusOK, pingResponse{
		Status:    "ok",
		NodeID:    n.self.NodeID.Hex(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (n *Node) handleStore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyHex, valueHex := q.Get("key"), q.Get("value")
	if keyHex == "" || valueHex == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing key or value"})
		return
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid key"})
		return
	}
	value, err := hex.DecodeString(valueHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid value"})
		return
	}
	var publisher *NodeID
	if p := q.Get("publisher_id"); p != "" {
		if id, err := NodeIDFromHex(p); err == nil {
			publisher = &id
		}
	}
	pub := n.self.NodeID
	if publisher != nil {
		pub = *publisher
	}
	n.values.put(key, value, &pub, time.Now().UTC())
	writeJSON(w, http.StatusOK, storeResponse{Status: "stored", Key: keyHex})
}

func (n *Node) handleFindNode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetHex := q.Get("target_id")
	if targetHex == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing target_id"})
		return
	}
	if senderID, host, port, ok := parseSenderParams(q); ok {
		n.table.Add(NodeInfo{NodeID: senderID, Host: host, Port: port, LastSeen: time.Now().UTC()})
	}
	targetID, err := NodeIDFromHex(targetHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid target_id"})
		return
	}
	closest := n.table.FindClosest(targetID, n.cfg.K)
	writeJSON(w, http.StatusOK, findNodeResponse{Nodes: toWireNodes(closest)})
}

func (n *Node) handleFindValue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyHex := q.Get("key")
	if keyHex == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing key"})
		return
	}
	if senderID, host, port, ok := parseSenderParams(q); ok {
		n.table.Add(NodeInfo{NodeID: senderID, Host: host, Port: port, LastSeen: time.Now().UTC()})
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid key"})
		return
	}
	if entry, ok := n.values.get(key, time.Now().UTC()); ok {
		resp := findValueResponse{Value: hex.EncodeToString(entry.Value), Timestamp: entry.Timestamp.UTC().Format(time.RFC3339)}
		if entry.PublisherID != nil {
			resp.PublisherID = entry.PublisherID.Hex()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	targetID := NewNodeIDFromBytes(key)
	closest := n.table.FindClosest(targetID, n.cfg.K)
	writeJSON(w, http.StatusOK, findValueResponse{Nodes: toWireNodes(closest)})
}

func (n *Node) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.Stats())
}

func (n *Node) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, findNodeResponse{Nodes: toWireNodes(n.table.AllNodes())})
}

func toWireNodes(nodes []NodeInfo) []wireNode {
	out := make([]wireNode, len(nodes))
	for i, n := range nodes {
		out[i] = toWireNode(n)
	}
	return out
}

func parseNodeParams(q map[string][]string) (NodeID, string, int, bool) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	idHex, host, portStr := get("node_id"), get("host"), get("port")
	if idHex == "" || host == "" || portStr == "" {
		return NodeID{}, "", 0, false
	}
	id, err := NodeIDFromHex(idHex)
	if err != nil {
		return NodeID{}, "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NodeID{}, "", 0, false
	}
	return id, host, port, true
}

func parseSenderParams(q map[string][]string) (NodeID, string, int, bool) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	idHex, host, portStr := get("sender_id"), get("sender_host"), get("sender_port")
	if idHex == "" || host == "" || portStr == "" {
		return NodeID{}, "", 0, false
	}
	id, err := NodeIDFromHex(idHex)
	if err != nil {
		return NodeID{}, "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NodeID{}, "", 0, false
	}
	return id, host, port, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ===== Background Tasks =====

func (n *Node) refreshLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.BucketRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for _, bucket := range n.table.Buckets() {
				if now.Sub(bucket.LastUpdated()) <= n.cfg.BucketRefreshInterval {
					continue
				}
				lo, hi := bucket.Range()
				randomID, err := NewRandomNodeIDInRange(n.self.NodeID, lo, hi)
				if err != nil {
					continue
				}
				if _, err := n.FindNode(ctx, randomID); err != nil {
					n.logger.Debug("bucket refresh lookup failed", "error", err)
				}
			}
		}
	}
}

func (n *Node) replicateLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range n.values.publishedBy(n.self.NodeID) {
				if _, err := n.Store(ctx, entry.Key, entry.Value, entry.PublisherID); err != nil {
					n.logger.Debug("replicate store failed", "error", err)
				}
			}
		}
	}
}

func (n *Node) expiryLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range n.values.sweepExpired(time.Now().UTC()) {
				n.logger.Info("expired dht entry removed", "key_prefix", hex.EncodeToString([]byte(key))[:16])
			}
		}
	}
}
