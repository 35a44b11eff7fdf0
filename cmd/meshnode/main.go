// Command meshnode runs one participant of the agent mesh: a Kademlia
// DHT node, the discovery service on top of it, and the peer façade
// that handles handshakes, sessions, and application messages.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meshcore/agentmesh/internal/config"
	"github.com/meshcore/agentmesh/internal/discovery"
	"github.com/meshcore/agentmesh/internal/heartbeat"
	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/kademlia"
	"github.com/meshcore/agentmesh/internal/peer"
	"github.com/meshcore/agentmesh/internal/platform/privacylog"
	"github.com/meshcore/agentmesh/internal/queue"
	"github.com/meshcore/agentmesh/internal/ratelimit"
	"github.com/meshcore/agentmesh/internal/storage"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to meshnode.yaml (optional)")
	dataDir := flag.String("data-dir", "", "directory for identity key and persisted DHT state")
	listenHost := flag.String("host", "", "override the configured listen host")
	listenPort := flag.Int("port", -1, "override the configured listen port")
	bootstrap := flag.String("bootstrap", "", "comma-separated host:port bootstrap nodes (overrides config)")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics listen address, empty to disable")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshnode version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg := config.LoadFromPathWithDataDir(*configPath, *dataDir)
	if *listenHost != "" {
		cfg.Network.Host = *listenHost
	}
	if *listenPort >= 0 {
		cfg.Network.Port = *listenPort
	}
	if *bootstrap != "" {
		cfg.Network.BootstrapNodes = strings.Split(*bootstrap, ",")
	}

	id, err := loadOrCreateIdentity(cfg.Persistence.DataDir)
	if err != nil {
		log.Fatalf("meshnode: identity setup failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := kademlia.NewNode(kademlia.Config{
		Host:                  cfg.Network.Host,
		Port:                  cfg.Network.Port,
		NodeID:                kademlia.NewNodeIDFromString(id.PublicKeyHex()),
		RPCTimeout:            cfg.Timing.RPCTimeout,
		BucketRefreshInterval: cfg.Timing.BucketRefreshInterval,
		ValueTTL:              cfg.Timing.ValueTTL,
		Persistence:           buildPersistence(cfg.Persistence),
		Logger:                logger,
	})
	if err := node.Start(ctx); err != nil {
		log.Fatalf("meshnode: dht node failed to start: %v", err)
	}
	defer func() { _ = node.Stop(context.Background()) }()

	if len(cfg.Network.BootstrapNodes) > 0 {
		if err := node.Bootstrap(ctx, parseBootstrapNodes(cfg.Network.BootstrapNodes)); err != nil {
			logger.Warn("bootstrap incomplete", "error", err)
		}
	}

	disco := discovery.NewService(node, discovery.Config{
		RandomWalkInterval: cfg.Timing.RandomWalkInterval,
		Logger:             logger,
	})
	disco.OnNewPeer(func(n kademlia.NodeInfo) {
		logger.Info("new peer observed", "node_id", n.NodeID.Hex(), "endpoint", n.Endpoint())
	})
	disco.Start(ctx)
	defer disco.Stop()
	if err := disco.Announce(ctx); err != nil {
		logger.Warn("announce failed", "error", err)
	}

	peerSvc := peer.NewPeerService(peer.Config{
		EntityID:           id.PublicKeyHex(),
		AutoChunkThreshold: cfg.Chunking.AutoChunkThreshold,
		ChunkSize:          cfg.Chunking.ChunkSize,
		Retry: queue.Config{
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxRetries: cfg.Retry.MaxRetries,
		},
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
			ViolationsToBlock: cfg.RateLimit.ViolationsToBlock,
			BlockDuration:     cfg.RateLimit.BlockDuration,
			IdleEvictAfter:    cfg.RateLimit.IdleEvictAfter,
		},
		Logger: logger,
	}, id, peer.NewHTTPTransport(&http.Client{Timeout: cfg.Timing.RPCTimeout}))

	heartbeats := heartbeat.NewMonitor(heartbeat.Config{
		Interval:         cfg.Timing.HeartbeatInterval,
		FailureThreshold: cfg.Timing.HeartbeatFailureLimit,
	}, func(ctx context.Context, peerID string) bool {
		closest := node.RoutingTable().FindClosest(kademlia.NewNodeIDFromString(peerID), 1)
		if len(closest) == 0 {
			return false
		}
		ok, err := node.Ping(ctx, closest[0])
		return err == nil && ok
	})
	heartbeats.Start(ctx)
	defer heartbeats.Stop()

	mux := http.NewServeMux()
	mux.Handle("/mesh/envelope", peerSvc)
	mux.HandleFunc("/mesh/stats", peerSvc.ServeStats)
	appServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Network.Host, cfg.Network.Port+1), Handler: mux}
	go func() {
		if err := appServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("peer http server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = appServer.Shutdown(shutdownCtx)
	}()

	if *metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(peer.Registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics http server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("meshnode started", "node_id", node.Self().NodeID.Hex(), "endpoint", node.Self().Endpoint())
	<-ctx.Done()
	logger.Info("meshnode stopping")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(privacylog.WrapHandler(base))
}

func buildPersistence(cfg config.PersistenceConfig) storage.Port {
	if cfg.DataDir == "" || cfg.Passphrase == "" {
		return storage.NewMemory()
	}
	return storage.NewEncrypted(
		filepath.Join(cfg.DataDir, "routing.enc"),
		filepath.Join(cfg.DataDir, "values.enc"),
		cfg.Passphrase,
	)
}

func parseBootstrapNodes(endpoints []string) []kademlia.NodeInfo {
	out := make([]kademlia.NodeInfo, 0, len(endpoints))
	for _, ep := range endpoints {
		host, portStr, err := splitHostPort(ep)
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		out = append(out, kademlia.NodeInfo{Host: host, Port: port})
	}
	return out
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("meshnode: %q is not a host:port pair", hostport)
	}
	return hostport[:idx], hostport[idx+1:], nil
}

// loadOrCreateIdentity persists the node's long-lived Ed25519 signing
// key as hex in <dataDir>/identity.key, generating one on first run.
func loadOrCreateIdentity(dataDir string) (*identity.Identity, error) {
	if dataDir == "" {
		return identity.NewIdentity()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "identity.key")
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, err
		}
		return identity.FromPrivateKey(priv)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	id, err := identity.NewIdentity()
	if err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(id.PrivateKey)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	return id, nil
}
