package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timing.ReplayWindow != 60*time.Second {
		t.Fatalf("expected replayWindow=60s, got %s", cfg.Timing.ReplayWindow)
	}
	if cfg.Chunking.AutoChunkThreshold != 10*1024 {
		t.Fatalf("expected autoChunkThreshold=10KiB, got %d", cfg.Chunking.AutoChunkThreshold)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("expected maxRetries=3, got %d", cfg.Retry.MaxRetries)
	}
}

func TestMergeOverridesOnlyNonZeroFields(t *testing.T) {
	dst := DefaultConfig()
	src := Config{
		Network: NetworkConfig{Port: 9100, BootstrapNodes: []string{"seed:9000"}},
		Timing:  TimingConfig{ReplayWindow: 30 * time.Second},
	}

	Merge(&dst, src)

	if dst.Network.Port != 9100 {
		t.Fatalf("expected port=9100, got %d", dst.Network.Port)
	}
	if len(dst.Network.BootstrapNodes) != 1 || dst.Network.BootstrapNodes[0] != "seed:9000" {
		t.Fatalf("expected bootstrap nodes to be overridden, got %v", dst.Network.BootstrapNodes)
	}
	if dst.Timing.ReplayWindow != 30*time.Second {
		t.Fatalf("expected replayWindow=30s, got %s", dst.Timing.ReplayWindow)
	}
	// Untouched fields keep their defaults.
	if dst.Timing.SessionIdleTimeout != 3600*time.Second {
		t.Fatalf("expected sessionIdleTimeout to remain default, got %s", dst.Timing.SessionIdleTimeout)
	}
}

func TestLoadFromPathWithDataDirFallsBackToDefaults(t *testing.T) {
	cfg := LoadFromPathWithDataDir(filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir())
	if cfg.Persistence.DataDir == "" {
		t.Fatal("expected dataDir to be stamped in even without a config file")
	}
}

func TestLoadFromPathWithDataDirReadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshnode.yaml")
	yaml := "network:\n  port: 9200\n  bootstrapNodes:\n    - \"10.0.0.1:9000\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg := LoadFromPathWithDataDir(path, dir)
	if cfg.Network.Port != 9200 {
		t.Fatalf("expected port=9200, got %d", cfg.Network.Port)
	}
	if len(cfg.Network.BootstrapNodes) != 1 || cfg.Network.BootstrapNodes[0] != "10.0.0.1:9000" {
		t.Fatalf("expected bootstrap nodes from file, got %v", cfg.Network.BootstrapNodes)
	}
}

func TestApplyEnvOverridesReadsHotKnobs(t *testing.T) {
	t.Setenv("MESHNODE_PORT", "9300")
	t.Setenv("MESHNODE_BOOTSTRAP_NODES", "a:1,b:2")

	cfg := DefaultConfig()
	ApplyEnvOverrides(&cfg)

	if cfg.Network.Port != 9300 {
		t.Fatalf("expected port=9300, got %d", cfg.Network.Port)
	}
	if len(cfg.Network.BootstrapNodes) != 2 {
		t.Fatalf("expected 2 bootstrap nodes, got %v", cfg.Network.BootstrapNodes)
	}
}
