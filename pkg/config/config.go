// Copyright 2025 Certen Protocol
//
// Config is the rolld node's configuration document: a YAML file with
// ${VAR_NAME} / ${VAR_NAME:-default} environment-variable substitution,
// grounded on the teacher's LoadAnchorConfig/substituteEnvVars idiom
// (formerly pkg/config/anchor_config.go), trimmed from anchor-contract/
// CometBFT-network settings to the sections a rollup node actually needs.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig points at the node's state-DB and kernel chain-state KV.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DatabaseConfig configures the Postgres-backed ledger DB (§4.L).
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	Required        bool   `yaml:"required"`
}

// ServerConfig configures the sequencer/prover HTTP API (§4.O).
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// FirestoreConfig configures the optional notification mirror (§4.M).
type FirestoreConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DaConfig selects and configures the DA adapter (§4.K). "mock" is the only
// da.Layer implementation in this tree; see DESIGN.md for why no real DA
// network adapter is wired.
type DaConfig struct {
	Layer string `yaml:"layer"` // "mock"
}

// KernelConfig is the node config's `kernel` section; cmd/rolld builds
// kernel.Constants from it.
type KernelConfig struct {
	ElasticityMultiplier        uint64   `yaml:"elasticity_multiplier"`
	BaseFeeMaxChangeDenominator uint64   `yaml:"base_fee_max_change_denominator"`
	InitialBaseFeePerGas        []uint64 `yaml:"initial_base_fee_per_gas"`
	InitialGasLimit             []uint64 `yaml:"initial_gas_limit"`
}

// Config holds all configuration for one rolld node process.
type Config struct {
	ChainID    uint64          `yaml:"chain_id"`
	Ed25519KeyPath string      `yaml:"ed25519_key_path"`
	GenesisPath string         `yaml:"genesis_path"`
	LogLevel    string         `yaml:"log_level"`

	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Da        DaConfig        `yaml:"da"`
	Kernel    KernelConfig    `yaml:"kernel"`
}

// Duration wraps time.Duration for readable YAML ("5m", "1h") rather than
// nanosecond integers, matching the teacher's Duration helper type.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "0.0.0.0:8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = "0.0.0.0:9090"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = Duration(time.Hour)
	}
	if cfg.Da.Layer == "" {
		cfg.Da.Layer = "mock"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Load reads and parses a node config document from path, substituting
// ${VAR_NAME} references against the process environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Validate checks the fields required to start a node.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: chain_id is required")
	}
	if c.GenesisPath == "" {
		return fmt.Errorf("config: genesis_path is required")
	}
	if c.Database.Required && c.Database.URL == "" {
		return fmt.Errorf("config: database.url is required when database.required is true")
	}
	return nil
}
