package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Store.Path != "wctv.db" {
		t.Errorf("Store.Path = %q, want wctv.db", cfg.Store.Path)
	}
	if cfg.Motor.FalsePositiveRate != 0.15 {
		t.Errorf("FalsePositiveRate = %v, want 0.15", cfg.Motor.FalsePositiveRate)
	}
	if cfg.Motor.RecoveryScore != 0.92 {
		t.Errorf("RecoveryScore = %v, want 0.92", cfg.Motor.RecoveryScore)
	}
	if !cfg.Seed.Enabled || cfg.Seed.StallCount != 10 || cfg.Seed.RandomSeed != 1337 {
		t.Errorf("Seed = %+v, want defaults", cfg.Seed)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  snapshot_interval: 10s
motor:
  visit_gap_min: 1s
  visit_gap_max: 2s
  false_positive_rate: 0.5
seed:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.SnapshotInterval != 10*time.Second {
		t.Errorf("SnapshotInterval = %v, want 10s", cfg.Server.SnapshotInterval)
	}
	if cfg.Motor.VisitGapMin != time.Second || cfg.Motor.VisitGapMax != 2*time.Second {
		t.Errorf("visit gap = [%v, %v), want [1s, 2s)", cfg.Motor.VisitGapMin, cfg.Motor.VisitGapMax)
	}
	if cfg.Motor.FalsePositiveRate != 0.5 {
		t.Errorf("FalsePositiveRate = %v, want 0.5", cfg.Motor.FalsePositiveRate)
	}
	if cfg.Seed.Enabled {
		t.Error("Seed.Enabled = true, want false")
	}
	// Untouched keys keep their defaults.
	if cfg.Motor.RecoveryScore != 0.92 {
		t.Errorf("RecoveryScore = %v, want default 0.92", cfg.Motor.RecoveryScore)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"InvertedVisitGap", "motor:\n  visit_gap_min: 10s\n  visit_gap_max: 5s\n"},
		{"InvertedDwell", "motor:\n  dwell_min: 10s\n  dwell_max: 5s\n"},
		{"InvertedAckDelay", "motor:\n  ack_delay_min: 10m\n  ack_delay_max: 5m\n"},
		{"FalsePositiveRateTooHigh", "motor:\n  false_positive_rate: 1.5\n"},
		{"RecoveryScoreNegative", "motor:\n  recovery_score: -0.1\n"},
		{"MalformedYaml", "motor: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Error("Load accepted an invalid config")
			}
		})
	}
}
