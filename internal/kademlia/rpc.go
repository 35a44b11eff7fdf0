package kademlia

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// wireNode is the JSON shape exchanged over the DHT RPCs (§6).
type wireNode struct {
	NodeID   string `json:"node_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LastSeen string `json:"last_seen,omitempty"`
}

func toWireNode(n NodeInfo) wireNode {
	return wireNode{NodeID: n.NodeID.Hex(), Host: n.Host, Port: n.Port, LastSeen: n.LastSeen.UTC().Format(time.RFC3339)}
}

func fromWireNode(w wireNode) (NodeInfo, error) {
	id, err := NodeIDFromHex(w.NodeID)
	if err != nil {
		return NodeInfo{}, err
	}
	lastSeen := time.Now().UTC()
	if w.LastSeen != "" {
		if ts, err := time.Parse(time.RFC3339, w.LastSeen); err == nil {
			lastSeen = ts
		}
	}
	return NodeInfo{NodeID: id, Host: w.Host, Port: w.Port, LastSeen: lastSeen}, nil
}

type pingResponse struct {
	Status    string `json:"status"`
	NodeID    string `json:"node_id"`
	Timestamp string `json:"timestamp"`
}

type storeResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

type findNodeResponse struct {
	Nodes []wireNode `json:"nodes"`
}

type findValueResponse struct {
	Value       string     `json:"value,omitempty"`
	PublisherID string     `json:"publisher_id,omitempty"`
	Timestamp   string     `json:"timestamp,omitempty"`
	Nodes       []wireNode `json:"nodes,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// rpcClient issues the HTTP GET DHT RPCs defined in SPEC_FULL.md §6.
type rpcClient struct {
	httpClient *http.Client
	self       NodeInfo
}

func newRPCClient(self NodeInfo, timeout time.Duration) *rpcClient {
	return &rpcClient{httpClient: &http.Client{Timeout: timeout}, self: self}
}

func (c *rpcClient) ping(ctx context.Context, target NodeInfo) (bool, error) {
	q := url.Values{}
	q.Set("node_id", c.self.NodeID.Hex())
	q.Set("host", c.self.Host)
	q.Set("port", strconv.Itoa(c.self.Port))
	var resp pingResponse
	if err := c.getJSON(ctx, target, "/dht/ping", q, &resp); err != nil {
		return false, err
	}
	return resp.Status == "ok", nil
}

func (c *rpcClient) store(ctx context.Context, target NodeInfo, key, value []byte, publisher NodeID) (bool, error) {
	q := url.Values{}
	q.Set("key", hex.EncodeToString(key))
	q.Set("value", hex.EncodeToString(value))
	q.Set("publisher_id", publisher.Hex())
	var resp storeResponse
	if err := c.getJSON(ctx, target, "/dht/store", q, &resp); err != nil {
		return false, err
	}
	return resp.Status == "stored", nil
}

func (c *rpcClient) findNode(ctx context.Context, target NodeInfo, targetID NodeID) ([]NodeInfo, error) {
	q := url.Values{}
	q.Set("target_id", targetID.Hex())
	q.Set("sender_id", c.self.NodeID.Hex())
	q.Set("sender_host", c.self.Host)
	q.Set("sender_port", strconv.Itoa(c.self.Port))
	var resp findNodeResponse
	if err := c.getJSON(ctx, target, "/dht/find_node", q, &resp); err != nil {
		return nil, err
	}
	return decodeWireNodes(resp.Nodes), nil
}

// findValueResult carries either a value or a next-hop node list.
type findValueResult struct {
	Value []byte
	Nodes []NodeInfo
}

func (c *rpcClient) findValue(ctx context.Context, target NodeInfo, key []byte) (findValueResult, error) {
	q := url.Values{}
	q.Set("key", hex.EncodeToString(key))
	q.Set("sender_id", c.self.NodeID.Hex())
	q.Set("sender_host", c.self.Host)
	q.Set("sender_port", strconv.Itoa(c.self.Port))
	var resp findValueResponse
	if err := c.getJSON(ctx, target, "/dht/find_value", q, &resp); err != nil {
		return findValueResult{}, err
	}
	if resp.Value != "" {
		value, err := hex.DecodeString(resp.Value)
		if err != nil {
			return findValueResult{}, err
		}
		return findValueResult{Value: value}, nil
	}
	return findValueResult{Nodes: decodeWireNodes(resp.Nodes)}, nil
}

func decodeWireNodes(nodes []wireNode) []NodeInfo {
	out := make([]NodeInfo, 0, len(nodes))
	for _, w := range nodes {
		if n, err := fromWireNode(w); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func (c *rpcClient) getJSON(ctx context.Context, target NodeInfo, path string, q url.Values, out any) error {
	u := target.Endpoint() + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
