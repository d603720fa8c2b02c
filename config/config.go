package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/openwash/fleetd/core/metrics"
	"github.com/openwash/fleetd/core/signature"
	"github.com/openwash/fleetd/infra/mqtt"
)

type Config struct {
	MQTT      mqtt.Config     `json:"mqtt"`
	Signature SignatureConfig `json:"signature"`
	Ledger    LedgerConfig    `json:"ledger"`
	Command   CommandConfig   `json:"command"`
	Liveness  LivenessConfig  `json:"liveness"`
	Metrics   metrics.Config  `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
}

// CommandConfig overrides the per-kind acknowledgment deadlines. Zero
// keeps the built-in default.
type CommandConfig struct {
	ApplyConfigTimeoutSeconds int `json:"apply_config_timeout_seconds"`
	RestartTimeoutSeconds     int `json:"restart_timeout_seconds"`
	DefaultTimeoutSeconds     int `json:"default_timeout_seconds"`
}

func (c CommandConfig) Validate() error {
	if c.ApplyConfigTimeoutSeconds < 0 || c.RestartTimeoutSeconds < 0 || c.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("command timeouts must be positive")
	}
	return nil
}

// SignatureConfig holds the shared key used to authenticate inbound
// HTTP requests from device agents.
type SignatureConfig struct {
	Secret string `json:"secret"`
}

func (c SignatureConfig) Validate() error {
	if c.Secret == "" {
		return &signature.ConfigurationError{Reason: "signature.secret is required"}
	}
	return nil
}

// LedgerConfig locates the SQLite database backing payment events and
// device state.
type LedgerConfig struct {
	Path string `json:"path"`
}

func (c *LedgerConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "fleet.db"
	}
}

// LivenessConfig tunes the offline detection window.
type LivenessConfig struct {
	OfflineThresholdMS int64 `json:"offline_threshold_ms"`
}

func (c *LivenessConfig) SetDefaults() {
	if c.OfflineThresholdMS == 0 {
		c.OfflineThresholdMS = 120_000
	}
}

func (c LivenessConfig) Validate() error {
	if c.OfflineThresholdMS < 0 {
		return fmt.Errorf("liveness.offline_threshold_ms must be positive")
	}
	return nil
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("W_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "w_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Ledger.SetDefaults()
	cfg.Liveness.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Logging.SetDefaults()
	if err := cfg.Signature.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Command.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Liveness.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Logging.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
