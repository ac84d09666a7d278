// Package dbconfig provides YAML-based configuration for the core engine,
// generalizing the teacher's config.Config yaml-tagged struct idiom.
package dbconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthzMode selects how the Authorization Gate resolves a decision.
type AuthzMode string

const (
	// AuthzCapabilityOnly consults only the principal's capability set.
	AuthzCapabilityOnly AuthzMode = "capability_only"
	// AuthzCapabilityThenRole consults capabilities first, falling back to
	// the legacy role/permission table on a miss (the default; §4.9).
	AuthzCapabilityThenRole AuthzMode = "capability_then_role"
)

// StorageConfig configures the Storage Engine backend (C4).
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MVCCConfig configures the MVCC Manager (C6).
type MVCCConfig struct {
	// RetentionWindow bounds how long a committed version stays visible to
	// new snapshots before becoming compaction-eligible garbage.
	RetentionWindow time.Duration `yaml:"retention_window"`
	// MaxCommitRetries bounds the MVCC commit retry loop
	// (mvcc.Manager.CommitWithRetry): the total number of commit attempts
	// made on ConflictError. Attempts follow each other without a backoff
	// delay, and any other error, I/O included, surfaces at once.
	MaxCommitRetries int `yaml:"max_commit_retries"`
}

// RewriteConfig configures the Rewrite Kernel scheduler (C7).
type RewriteConfig struct {
	StepCap         int           `yaml:"step_cap"`
	WallClockBudget time.Duration `yaml:"wall_clock_budget"`
	MaxApplications int           `yaml:"max_applications"`
	// ParWorkers bounds the admission queue used by the Par strategy.
	ParWorkers int64 `yaml:"par_workers"`
}

// HLCConfig configures hybrid-logical-clock tie-breaking (§4.4).
type HLCConfig struct {
	NodeID string `yaml:"node_id"`
}

// TxLogConfig configures the Transaction Log (C5). MaxBodyBytes is
// supplemented from original_source's kotoba-storage notion of a
// size-bounded transaction body.
type TxLogConfig struct {
	MaxBodyBytes int `yaml:"max_body_bytes"`
}

// Config is the root configuration value.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	TxLog   TxLogConfig   `yaml:"txlog"`
	MVCC    MVCCConfig    `yaml:"mvcc"`
	Rewrite RewriteConfig `yaml:"rewrite"`
	HLC     HLCConfig     `yaml:"hlc"`
	Authz   AuthzMode     `yaml:"authz_mode"`
}

// Default returns production-sane defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "kotobadb.sqlite"},
		TxLog:   TxLogConfig{MaxBodyBytes: 4 << 20},
		MVCC: MVCCConfig{
			RetentionWindow:  24 * time.Hour,
			MaxCommitRetries: 5,
		},
		Rewrite: RewriteConfig{
			StepCap:         10_000,
			WallClockBudget: 30 * time.Second,
			MaxApplications: 100_000,
			ParWorkers:      8,
		},
		HLC:   HLCConfig{NodeID: "node-0"},
		Authz: AuthzCapabilityThenRole,
	}
}

// Load reads and parses a YAML configuration file on top of Default():
// any field the file does not set keeps its default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbconfig: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("dbconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
