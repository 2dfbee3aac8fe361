// Package config loads the vaultd runtime configuration: a YAML daemon
// file for listen addresses, storage paths and oracle polling, plus a TOML
// registry describing the accepted collateral assets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures runtime configuration for vaultd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	StatePath     string          `yaml:"state"`
	JournalPath   string          `yaml:"journal"`
	AssetsFile    string          `yaml:"assets"`
	Oracle        OracleConfig    `yaml:"oracle"`
	Sources       []Source        `yaml:"sources"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	PausedFlows   []string        `yaml:"paused_flows"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	expandSecrets(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// expandSecrets resolves secret values written as ${NAME} from the
// environment so tokens and keys can stay out of the file on disk. Literal
// values pass through untouched.
func expandSecrets(cfg *Config) {
	cfg.Auth.BearerToken = expandSecret(cfg.Auth.BearerToken)
	cfg.Auth.JWTSecret = expandSecret(cfg.Auth.JWTSecret)
	for i := range cfg.Sources {
		cfg.Sources[i].APIKey = expandSecret(cfg.Sources[i].APIKey)
	}
}

func expandSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return os.Getenv(strings.TrimSpace(trimmed[2 : len(trimmed)-1]))
	}
	return value
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8545"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "vault-data/state"
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = "vault-data/journal.db"
	}
	if cfg.AssetsFile == "" {
		cfg.AssetsFile = "assets.toml"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 50
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 100
	}
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	if cfg.Auth.Mode == "" {
		switch {
		case strings.TrimSpace(cfg.Auth.JWTSecret) != "":
			cfg.Auth.Mode = AuthModeJWT
		case strings.TrimSpace(cfg.Auth.BearerToken) != "":
			cfg.Auth.Mode = AuthModeToken
		default:
			cfg.Auth.Mode = AuthModeNone
		}
	}
}

// WriteDefault persists a starter configuration file.
func WriteDefault(path string) error {
	cfg := Config{
		ListenAddress: ":8545",
		StatePath:     "vault-data/state",
		JournalPath:   "vault-data/journal.db",
		AssetsFile:    "assets.toml",
		Oracle: OracleConfig{
			Interval: Duration{30 * time.Second},
			MaxAge:   Duration{2 * time.Minute},
			MinFeeds: 1,
		},
		Sources: []Source{{Name: "coingecko", Type: "coingecko"}},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, encoded, 0o644)
}
