package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// EnvJWTSecret overrides Auth.HMACSecret when Auth.SecretEnv is unset.
	EnvJWTSecret = "HOME_ESCROW_JWT_SECRET"
	// EnvEnvironment overrides Config.Environment.
	EnvEnvironment = "HOME_ESCROW_ENV"
)

type Config struct {
	RPCAddress   string       `toml:"RPCAddress"`
	DataDir      string       `toml:"DataDir"`
	Environment  string       `toml:"Environment"`
	VaultAddress string       `toml:"VaultAddress"`
	Log          Log          `toml:"log"`
	Listing      Listing      `toml:"listing"`
	Identity     Identity     `toml:"identity"`
	Audit        Audit        `toml:"audit"`
	Auth         Auth         `toml:"auth"`
	RateLimit    RateLimit    `toml:"rate_limit"`
	Telemetry    Telemetry    `toml:"telemetry"`
	Webhook      Webhook      `toml:"webhook"`
	Pauses       Pauses       `toml:"pauses"`
	Allocations  []Allocation `toml:"allocations"`
}

// Load loads the configuration from the given path. A default file is written
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Allocations == nil {
		cfg.Allocations = []Allocation{}
	}
	applyEnv(cfg)
	return cfg, nil
}

// Default returns the configuration written for a fresh installation.
func Default() *Config {
	return &Config{
		RPCAddress:  "127.0.0.1:8547",
		DataDir:     "./home-escrow-data",
		Environment: "local",
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Listing: Listing{
			MinDeposit:     "1000000",
			OfferFee:       "10000",
			FailsafeDays:   180,
			MinListingDays: 7,
			MinKeyLength:   32,
		},
		Audit: Audit{
			Enabled: true,
			Driver:  "sqlite",
			DSN:     "file:audit.db?_pragma=busy_timeout(5000)",
		},
		Auth: Auth{
			Enabled:          true,
			SecretEnv:        EnvJWTSecret,
			Issuer:           "home-escrow",
			Audience:         "listingd",
			ClockSkewSeconds: 120,
		},
		RateLimit: RateLimit{
			RequestsPerSecond:  20,
			Burst:              40,
			MutationsPerMinute: 30,
		},
		Allocations: []Allocation{},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func applyEnv(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		cfg.Environment = env
	}
	secretEnv := strings.TrimSpace(cfg.Auth.SecretEnv)
	if secretEnv == "" {
		secretEnv = EnvJWTSecret
	}
	if secret := strings.TrimSpace(os.Getenv(secretEnv)); secret != "" {
		cfg.Auth.HMACSecret = secret
	}
}

// ResolvePath anchors relative paths inside the data directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
