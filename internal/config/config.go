package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server Server `yaml:"server"`
	Store  Store  `yaml:"store"`
	Motor  Motor  `yaml:"motor"`
	Seed   Seed   `yaml:"seed"`
}

type Server struct {
	Port             int           `yaml:"port"`
	Host             string        `yaml:"host"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type Store struct {
	Path string `yaml:"path"`
}

// Motor holds the timing and probability knobs of the simulation engine.
// All intervals are half-open [Min, Max) ranges sampled uniformly.
type Motor struct {
	VisitGapMin time.Duration `yaml:"visit_gap_min"`
	VisitGapMax time.Duration `yaml:"visit_gap_max"`
	DwellMin    time.Duration `yaml:"dwell_min"`
	DwellMax    time.Duration `yaml:"dwell_max"`

	AckDelayMin   time.Duration `yaml:"ack_delay_min"`
	AckDelayMax   time.Duration `yaml:"ack_delay_max"`
	CleanDelayMin time.Duration `yaml:"clean_delay_min"`
	CleanDelayMax time.Duration `yaml:"clean_delay_max"`

	FalsePositiveRate float64 `yaml:"false_positive_rate"`
	RecoveryScore     float64 `yaml:"recovery_score"`
}

type Seed struct {
	Enabled     bool  `yaml:"enabled"`
	StallCount  int   `yaml:"stall_count"`
	RandomSeed  int64 `yaml:"random_seed"`
	HistoryDays int   `yaml:"history_days"`
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Port:             5000,
			Host:             "0.0.0.0",
			SnapshotInterval: 30 * time.Second,
		},
		Store: Store{
			Path: "wctv.db",
		},
		Motor: Motor{
			VisitGapMin:       8 * time.Second,
			VisitGapMax:       18 * time.Second,
			DwellMin:          4 * time.Second,
			DwellMax:          10 * time.Second,
			AckDelayMin:       4 * time.Minute,
			AckDelayMax:       14 * time.Minute,
			CleanDelayMin:     1 * time.Minute,
			CleanDelayMax:     5 * time.Minute,
			FalsePositiveRate: 0.15,
			RecoveryScore:     0.92,
		},
		Seed: Seed{
			Enabled:     true,
			StallCount:  10,
			RandomSeed:  1337,
			HistoryDays: 7,
		},
	}
}

// Load reads the yaml config at path, layered over the built-in defaults.
// A missing file is not an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Motor.VisitGapMax < c.Motor.VisitGapMin {
		return fmt.Errorf("motor: visit_gap_max %v < visit_gap_min %v", c.Motor.VisitGapMax, c.Motor.VisitGapMin)
	}
	if c.Motor.DwellMax < c.Motor.DwellMin {
		return fmt.Errorf("motor: dwell_max %v < dwell_min %v", c.Motor.DwellMax, c.Motor.DwellMin)
	}
	if c.Motor.AckDelayMax < c.Motor.AckDelayMin {
		return fmt.Errorf("motor: ack_delay_max %v < ack_delay_min %v", c.Motor.AckDelayMax, c.Motor.AckDelayMin)
	}
	if c.Motor.CleanDelayMax < c.Motor.CleanDelayMin {
		return fmt.Errorf("motor: clean_delay_max %v < clean_delay_min %v", c.Motor.CleanDelayMax, c.Motor.CleanDelayMin)
	}
	if c.Motor.FalsePositiveRate < 0 || c.Motor.FalsePositiveRate > 1 {
		return fmt.Errorf("motor: false_positive_rate %v outside [0,1]", c.Motor.FalsePositiveRate)
	}
	if c.Motor.RecoveryScore < 0 || c.Motor.RecoveryScore > 1 {
		return fmt.Errorf("motor: recovery_score %v outside [0,1]", c.Motor.RecoveryScore)
	}
	return nil
}
