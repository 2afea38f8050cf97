// Package config loads daemon configuration from YAML with environment
// overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr     string
	DataDir        string
	StoreSecret    string
	Network        string
	EpochWindow    uint64
	RequestTimeout time.Duration
	SaltServiceURL string
	ProverURL      string
	FullnodeURL    string
	RateLimitRPS   float64
	RateLimitBurst int
}

func Default() Config {
	return Config{
		ListenAddr:     "127.0.0.1:8917",
		Network:        "devnet",
		EpochWindow:    2,
		RequestTimeout: 30 * time.Second,
		FullnodeURL:    "https://fullnode.devnet.sui.io:443",
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
}

type fileConfig struct {
	ZkLogin fileZkLoginConfig `yaml:"zklogin"`
}

type fileZkLoginConfig struct {
	ListenAddr     string        `yaml:"listenAddr"`
	DataDir        string        `yaml:"dataDir"`
	StoreSecret    string        `yaml:"storeSecret"`
	Network        string        `yaml:"network"`
	EpochWindow    uint64        `yaml:"epochWindow"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	SaltServiceURL string        `yaml:"saltServiceUrl"`
	ProverURL      string        `yaml:"proverUrl"`
	FullnodeURL    string        `yaml:"fullnodeUrl"`
	RateLimitRPS   float64       `yaml:"rateLimitRps"`
	RateLimitBurst int           `yaml:"rateLimitBurst"`
}

// LoadFromPath reads the first readable config candidate, merges it over the
// defaults and applies environment overrides last.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/zklogind.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed.ZkLogin)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src fileZkLoginConfig) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.StoreSecret != "" {
		dst.StoreSecret = src.StoreSecret
	}
	if src.Network != "" {
		dst.Network = src.Network
	}
	if src.EpochWindow != 0 {
		dst.EpochWindow = src.EpochWindow
	}
	if src.RequestTimeout != 0 {
		dst.RequestTimeout = src.RequestTimeout
	}
	if src.SaltServiceURL != "" {
		dst.SaltServiceURL = src.SaltServiceURL
	}
	if src.ProverURL != "" {
		dst.ProverURL = src.ProverURL
	}
	if src.FullnodeURL != "" {
		dst.FullnodeURL = src.FullnodeURL
	}
	if src.RateLimitRPS != 0 {
		dst.RateLimitRPS = src.RateLimitRPS
	}
	if src.RateLimitBurst != 0 {
		dst.RateLimitBurst = src.RateLimitBurst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_SALT_SERVICE_URL")); v != "" {
		cfg.SaltServiceURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_PROVER_URL")); v != "" {
		cfg.ProverURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_FULLNODE_URL")); v != "" {
		cfg.FullnodeURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_NETWORK")); v != "" {
		cfg.Network = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_STORE_SECRET")); v != "" {
		cfg.StoreSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ZKLOGIN_EPOCH_WINDOW")); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil && parsed > 0 {
			cfg.EpochWindow = parsed
		}
	}
}
