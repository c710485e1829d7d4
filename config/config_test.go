package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"homeescrow/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Listing.FailsafeDays != 180 || cfg.Audit.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.RPCAddress != cfg.RPCAddress {
		t.Fatalf("default did not round trip")
	}
}

func TestLoadParsesSections(t *testing.T) {
	bidder := crypto.NewAddress(crypto.HomePrefix, bytes.Repeat([]byte{0x02}, 20)).String()
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/listingd"
Environment = "staging"

[listing]
MinDeposit = "2_000_000"
OfferFee = "25000"
FailsafeDays = 120
MinListingDays = 14

[audit]
Enabled = true
Driver = "postgres"
DSN = "postgres://audit@localhost/audit"

[auth]
Enabled = true
HMACSecret = "` + testSecret + `"

[[allocations]]
Address = "` + bidder + `"
Balance = "5000000"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	params, err := cfg.ListingParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.MinDeposit.Int64() != 2_000_000 || params.OfferFee.Int64() != 25_000 {
		t.Fatalf("unexpected amounts %s %s", params.MinDeposit, params.OfferFee)
	}
	if params.FailsafeDays != 120 || params.MinListingDays != 14 || params.MinKeyLength != 32 {
		t.Fatalf("unexpected windows %+v", params)
	}
	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Balance.Int64() != 5_000_000 || allocs[0].Address[0] != 0x02 {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	if cfg.ResolvePath("audit.db") != filepath.Join("/var/lib/listingd", "audit.db") {
		t.Fatalf("unexpected resolved path")
	}
	// Defaults fill sections the file leaves out.
	if cfg.RateLimit.Burst != 40 {
		t.Fatalf("rate limit default lost: %+v", cfg.RateLimit)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvJWTSecret, testSecret)
	t.Setenv(EnvEnvironment, "production")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.HMACSecret != testSecret || cfg.Environment != "production" {
		t.Fatalf("environment not applied: %+v", cfg.Auth)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateConfigRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"short secret":     func(c *Config) { c.Auth.HMACSecret = "short" },
		"fee above min":    func(c *Config) { c.Listing.OfferFee = "2000000" },
		"bad amount":       func(c *Config) { c.Listing.MinDeposit = "1e6" },
		"audit driver":     func(c *Config) { c.Audit.Driver = "mysql" },
		"missing dsn":      func(c *Config) { c.Audit.DSN = " " },
		"bad vault":        func(c *Config) { c.VaultAddress = "nope" },
		"burst":            func(c *Config) { c.RateLimit.Burst = 0 },
		"allocation":       func(c *Config) { c.Allocations = []Allocation{{Address: "", Balance: "1"}} },
		"negative balance": func(c *Config) { c.Listing.OfferFee = "-1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.HMACSecret = testSecret
			mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestVaultDerivation(t *testing.T) {
	cfg := Default()
	derived, err := cfg.Vault()
	if err != nil || derived == ([20]byte{}) {
		t.Fatalf("derived vault: %x %v", derived, err)
	}
	explicit := crypto.NewAddress(crypto.HomePrefix, bytes.Repeat([]byte{0x0E}, 20)).String()
	cfg.VaultAddress = strings.ToUpper(explicit)
	vault, err := cfg.Vault()
	if err != nil {
		t.Fatalf("explicit vault: %v", err)
	}
	if vault[0] != 0x0E {
		t.Fatalf("unexpected vault %x", vault)
	}
}
