package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Mode selects the ledger backing the gateway.
const (
	ModeMemory = "memory"
	ModeRPC    = "rpc"
)

// APIKeyConfig describes a single API key + secret pair accepted by the gateway.
type APIKeyConfig struct {
	Key    string `json:"key" yaml:"key"`
	Secret string `json:"secret" yaml:"secret"`
}

// Config captures runtime configuration for the campaign gateway service.
type Config struct {
	ListenAddress        string
	Env                  string
	Mode                 string
	NodeURL              string
	NodeAuthToken        string
	DatabasePath         string
	AllowedTimestampSkew time.Duration
	NonceTTL             time.Duration
	NonceCapacity        int
	APIKeys              []APIKeyConfig
	RateLimitPerSecond   float64
	RateLimitBurst       int
	MaxConfirmRounds     int
	LogFile              string
	LogMaxSizeMB         int
	LogMaxBackups        int
}

// fileConfig mirrors the optional TOML configuration file. Environment
// variables override anything set here.
type fileConfig struct {
	ListenAddress      string  `toml:"listen"`
	Env                string  `toml:"env"`
	Mode               string  `toml:"mode"`
	NodeURL            string  `toml:"node_url"`
	NodeAuthToken      string  `toml:"node_token"`
	DatabasePath       string  `toml:"database_path"`
	TimestampSkew      string  `toml:"timestamp_skew"`
	NonceTTL           string  `toml:"nonce_ttl"`
	NonceCapacity      int     `toml:"nonce_capacity"`
	APIKeysFile        string  `toml:"api_keys_file"`
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"rate_limit_burst"`
	MaxConfirmRounds   int     `toml:"max_confirm_rounds"`
	LogFile            string  `toml:"log_file"`
	LogMaxSizeMB       int     `toml:"log_max_size_mb"`
	LogMaxBackups      int     `toml:"log_max_backups"`
}

type apiKeysFile struct {
	Keys []APIKeyConfig `yaml:"keys"`
}

// LoadConfig builds the configuration from the optional TOML file named by
// CAMPAIGN_GATEWAY_CONFIG plus environment variable overrides.
func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddress:        ":8090",
		Mode:                 ModeMemory,
		DatabasePath:         "campaign-gateway.db",
		AllowedTimestampSkew: 2 * time.Minute,
		NonceCapacity:        1024,
		RateLimitPerSecond:   20,
		RateLimitBurst:       40,
		MaxConfirmRounds:     10,
		LogMaxSizeMB:         64,
		LogMaxBackups:        4,
	}

	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_CONFIG")); path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyFileConfig(&cfg, file)
	}

	applyEnvOverrides(&cfg)

	cfg.NonceTTL = 2 * cfg.AllowedTimestampSkew
	if raw := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_NONCE_TTL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CAMPAIGN_GATEWAY_NONCE_TTL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("CAMPAIGN_GATEWAY_NONCE_TTL must be positive")
		}
		cfg.NonceTTL = dur
	} else if file.NonceTTL != "" {
		dur, err := time.ParseDuration(file.NonceTTL)
		if err != nil {
			return Config{}, fmt.Errorf("parse nonce_ttl: %w", err)
		}
		cfg.NonceTTL = dur
	}
	if cfg.NonceTTL < cfg.AllowedTimestampSkew {
		cfg.NonceTTL = cfg.AllowedTimestampSkew
	}

	keys, err := loadAPIKeys(file.APIKeysFile)
	if err != nil {
		return Config{}, err
	}
	cfg.APIKeys = keys

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, file fileConfig) {
	if file.ListenAddress != "" {
		cfg.ListenAddress = file.ListenAddress
	}
	if file.Env != "" {
		cfg.Env = file.Env
	}
	if file.Mode != "" {
		cfg.Mode = strings.ToLower(file.Mode)
	}
	if file.NodeURL != "" {
		cfg.NodeURL = file.NodeURL
	}
	if file.NodeAuthToken != "" {
		cfg.NodeAuthToken = file.NodeAuthToken
	}
	if file.DatabasePath != "" {
		cfg.DatabasePath = file.DatabasePath
	}
	if file.TimestampSkew != "" {
		if dur, err := time.ParseDuration(file.TimestampSkew); err == nil && dur > 0 {
			cfg.AllowedTimestampSkew = dur
		}
	}
	if file.NonceCapacity > 0 {
		cfg.NonceCapacity = file.NonceCapacity
	}
	if file.RateLimitPerSecond > 0 {
		cfg.RateLimitPerSecond = file.RateLimitPerSecond
	}
	if file.RateLimitBurst > 0 {
		cfg.RateLimitBurst = file.RateLimitBurst
	}
	if file.MaxConfirmRounds > 0 {
		cfg.MaxConfirmRounds = file.MaxConfirmRounds
	}
	if file.LogFile != "" {
		cfg.LogFile = file.LogFile
	}
	if file.LogMaxSizeMB > 0 {
		cfg.LogMaxSizeMB = file.LogMaxSizeMB
	}
	if file.LogMaxBackups > 0 {
		cfg.LogMaxBackups = file.LogMaxBackups
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_ENV")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_MODE")); v != "" {
		cfg.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_NODE_URL")); v != "" {
		cfg.NodeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_NODE_TOKEN")); v != "" {
		cfg.NodeAuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_DB_PATH")); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_TIMESTAMP_SKEW")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.AllowedTimestampSkew = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_NONCE_CAP")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.NonceCapacity = val
		}
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_RATE_LIMIT")); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 {
			cfg.RateLimitPerSecond = val
		}
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_RATE_BURST")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.RateLimitBurst = val
		}
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_MAX_ROUNDS")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.MaxConfirmRounds = val
		}
	}
	if v := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
}

// loadAPIKeys reads API keys from the inline CAMPAIGN_GATEWAY_API_KEYS JSON
// array, falling back to the YAML file from the TOML config.
func loadAPIKeys(yamlPath string) ([]APIKeyConfig, error) {
	var entries []APIKeyConfig
	if raw := strings.TrimSpace(os.Getenv("CAMPAIGN_GATEWAY_API_KEYS")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("parse CAMPAIGN_GATEWAY_API_KEYS: %w", err)
		}
	} else if path := strings.TrimSpace(yamlPath); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read api keys file %s: %w", path, err)
		}
		var file apiKeysFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse api keys file %s: %w", path, err)
		}
		entries = file.Keys
	}
	if len(entries) == 0 {
		return nil, errors.New("no API keys configured")
	}
	sanitized := make([]APIKeyConfig, 0, len(entries))
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		secret := strings.TrimSpace(entry.Secret)
		if key == "" || secret == "" {
			return nil, errors.New("api key entries must include key and secret")
		}
		sanitized = append(sanitized, APIKeyConfig{Key: key, Secret: secret})
	}
	return sanitized, nil
}

func validateConfig(cfg Config) error {
	switch cfg.Mode {
	case ModeMemory:
	case ModeRPC:
		if cfg.NodeURL == "" {
			return errors.New("node url is required in rpc mode")
		}
	default:
		return fmt.Errorf("unsupported mode %q", cfg.Mode)
	}
	return nil
}
