package config

import (
	"fmt"
	"strings"
)

var (
	// MinSecretLength is the shortest HMAC secret accepted when auth is on.
	MinSecretLength = 32
)

// ValidateConfig checks the parts of the configuration that cannot be
// validated by their consumers alone.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := c.ListingParams(); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	if _, err := c.Vault(); err != nil {
		return err
	}
	if _, err := c.GenesisAllocations(); err != nil {
		return err
	}
	if c.Audit.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("audit: unsupported driver %q", c.Audit.Driver)
		}
		if strings.TrimSpace(c.Audit.DSN) == "" {
			return fmt.Errorf("audit: DSN required")
		}
	}
	if c.Auth.Enabled && len(strings.TrimSpace(c.Auth.HMACSecret)) < MinSecretLength {
		return fmt.Errorf("auth: HMAC secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return fmt.Errorf("auth: ClockSkewSeconds must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("rate_limit: Burst required when RequestsPerSecond is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	return nil
}
