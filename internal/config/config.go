// Package config loads the yaml-backed tunables for a mesh node,
// modeled on the teacher's internal/bootstrap/wakuconfig pattern:
// DefaultConfig, LoadFromPathWithDataDir, Merge, ApplyEnvOverrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshcore/agentmesh/internal/meshwire"
)

// Config is the full set of tunables named in spec.md §5, plus the
// handful of network-identity knobs a daemon needs to boot.
type Config struct {
	Network     NetworkConfig     `yaml:"network"`
	Timing      TimingConfig      `yaml:"timing"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Retry       RetryConfig       `yaml:"retry"`
	RateLimit   RateLimitConfig   `yaml:"rateLimit"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

type NetworkConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BootstrapNodes []string `yaml:"bootstrapNodes"`
}

// TimingConfig holds every duration-valued tunable spec.md §5 names.
type TimingConfig struct {
	RPCTimeout            time.Duration `yaml:"rpcTimeout"`
	HandshakeStepTimeout  time.Duration `yaml:"handshakeStepTimeout"`
	SessionIdleTimeout    time.Duration `yaml:"sessionIdleTimeout"`
	ReplayWindow          time.Duration `yaml:"replayWindow"`
	ReplayGCInterval      time.Duration `yaml:"replayGCInterval"`
	HeartbeatInterval     time.Duration `yaml:"heartbeatInterval"`
	HeartbeatFailureLimit int           `yaml:"heartbeatFailureLimit"`
	BucketRefreshInterval time.Duration `yaml:"bucketRefreshInterval"`
	ValueTTL              time.Duration `yaml:"valueTTL"`
	RandomWalkInterval    time.Duration `yaml:"randomWalkInterval"`
}

type ChunkingConfig struct {
	AutoChunkThreshold int           `yaml:"autoChunkThreshold"`
	ChunkSize          int           `yaml:"chunkSize"`
	StaleAfter         time.Duration `yaml:"staleAfter"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"baseDelay"`
	MaxRetries int           `yaml:"maxRetries"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64       `yaml:"requestsPerMinute"`
	BurstSize         int           `yaml:"burstSize"`
	ViolationsToBlock int           `yaml:"violationsToBlock"`
	BlockDuration     time.Duration `yaml:"blockDuration"`
	IdleEvictAfter    time.Duration `yaml:"idleEvictAfter"`
}

// PersistenceConfig points at where routing-table/DHT-value snapshots
// are written. With both DataDir and Passphrase set, snapshots go to
// internal/storage.Encrypted files under DataDir; if either is empty,
// state is kept in memory only.
type PersistenceConfig struct {
	DataDir    string `yaml:"dataDir"`
	Passphrase string `yaml:"passphrase"`
}

// DefaultConfig returns the spec-default tunables (meshwire.Default*),
// with no bootstrap nodes and persistence disabled.
func DefaultConfig() Config {
	return Config{
		Network: NetworkConfig{Host: "0.0.0.0", Port: 0},
		Timing: TimingConfig{
			RPCTimeout:            meshwire.DefaultRPCTimeout,
			HandshakeStepTimeout:  meshwire.DefaultHandshakeStepTimeout,
			SessionIdleTimeout:    meshwire.DefaultSessionIdleTimeout,
			ReplayWindow:          meshwire.DefaultReplayWindow,
			ReplayGCInterval:      meshwire.DefaultReplayGCInterval,
			HeartbeatInterval:     meshwire.DefaultHeartbeatInterval,
			HeartbeatFailureLimit: meshwire.DefaultHeartbeatFailureLimit,
			BucketRefreshInterval: meshwire.DefaultBucketRefreshInterval,
			ValueTTL:              meshwire.DefaultValueTTL,
			RandomWalkInterval:    meshwire.DefaultRandomWalkInterval,
		},
		Chunking: ChunkingConfig{
			AutoChunkThreshold: meshwire.DefaultAutoChunkThreshold,
			ChunkSize:          meshwire.DefaultChunkSize,
			StaleAfter:         meshwire.DefaultChunkStaleAfter,
		},
		Retry: RetryConfig{
			BaseDelay:  meshwire.DefaultRetryBaseDelay,
			MaxRetries: meshwire.DefaultMaxRetries,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
	}
}

// LoadFromPathWithDataDir reads configPath (falling back to a couple of
// conventional locations when empty), merges it over the defaults,
// applies environment overrides, and stamps dataDir into Persistence
// when the file didn't already set one.
func LoadFromPathWithDataDir(configPath, dataDir string) Config {
	cfg := DefaultConfig()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/meshnode.yaml", "meshnode.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	if cfg.Persistence.DataDir == "" {
		cfg.Persistence.DataDir = dataDir
	}
	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge overlays every non-zero field of src onto dst, field by field,
// the same way the teacher's wakuconfig.Merge does for waku.Config.
func Merge(dst *Config, src Config) {
	if src.Network.Host != "" {
		dst.Network.Host = src.Network.Host
	}
	mergeIfSet(&dst.Network.Port, src.Network.Port)
	if src.Network.BootstrapNodes != nil {
		dst.Network.BootstrapNodes = src.Network.BootstrapNodes
	}

	mergeIfSet(&dst.Timing.RPCTimeout, src.Timing.RPCTimeout)
	mergeIfSet(&dst.Timing.HandshakeStepTimeout, src.Timing.HandshakeStepTimeout)
	mergeIfSet(&dst.Timing.SessionIdleTimeout, src.Timing.SessionIdleTimeout)
	mergeIfSet(&dst.Timing.ReplayWindow, src.Timing.ReplayWindow)
	mergeIfSet(&dst.Timing.ReplayGCInterval, src.Timing.ReplayGCInterval)
	mergeIfSet(&dst.Timing.HeartbeatInterval, src.Timing.HeartbeatInterval)
	mergeIfSet(&dst.Timing.HeartbeatFailureLimit, src.Timing.HeartbeatFailureLimit)
	mergeIfSet(&dst.Timing.BucketRefreshInterval, src.Timing.BucketRefreshInterval)
	mergeIfSet(&dst.Timing.ValueTTL, src.Timing.ValueTTL)
	mergeIfSet(&dst.Timing.RandomWalkInterval, src.Timing.RandomWalkInterval)

	mergeIfSet(&dst.Chunking.AutoChunkThreshold, src.Chunking.AutoChunkThreshold)
	mergeIfSet(&dst.Chunking.ChunkSize, src.Chunking.ChunkSize)
	mergeIfSet(&dst.Chunking.StaleAfter, src.Chunking.StaleAfter)

	mergeIfSet(&dst.Retry.BaseDelay, src.Retry.BaseDelay)
	mergeIfSet(&dst.Retry.MaxRetries, src.Retry.MaxRetries)

	mergeIfSet(&dst.RateLimit.RequestsPerMinute, src.RateLimit.RequestsPerMinute)
	mergeIfSet(&dst.RateLimit.BurstSize, src.RateLimit.BurstSize)
	mergeIfSet(&dst.RateLimit.ViolationsToBlock, src.RateLimit.ViolationsToBlock)
	mergeIfSet(&dst.RateLimit.BlockDuration, src.RateLimit.BlockDuration)
	mergeIfSet(&dst.RateLimit.IdleEvictAfter, src.RateLimit.IdleEvictAfter)

	if src.Persistence.DataDir != "" {
		dst.Persistence.DataDir = src.Persistence.DataDir
	}
	if src.Persistence.Passphrase != "" {
		dst.Persistence.Passphrase = src.Persistence.Passphrase
	}
}

func mergeIfSet[T comparable](dst *T, src T) {
	var zero T
	if src != zero {
		*dst = src
	}
}

// ApplyEnvOverrides reads the handful of operationally hot knobs from
// the environment: bootstrap endpoints (MESHNODE_BOOTSTRAP_NODES),
// listen port (MESHNODE_PORT), listen host (MESHNODE_HOST) and data
// directory (MESHNODE_DATA_DIR).
func ApplyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv("MESHNODE_BOOTSTRAP_NODES")); raw != "" {
		cfg.Network.BootstrapNodes = strings.Split(raw, ",")
	}
	if raw := strings.TrimSpace(os.Getenv("MESHNODE_PORT")); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			cfg.Network.Port = port
		}
	}
	if raw := strings.TrimSpace(os.Getenv("MESHNODE_HOST")); raw != "" {
		cfg.Network.Host = raw
	}
	if raw := strings.TrimSpace(os.Getenv("MESHNODE_DATA_DIR")); raw != "" {
		cfg.Persistence.DataDir = raw
	}
}
