package config

// Log configures the structured logger and its optional rotating file sink.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Listing holds the economic and timing constants of the listing. Amounts are
// decimal strings so they are not bounded by TOML integers.
type Listing struct {
	MinDeposit     string `toml:"MinDeposit"`
	OfferFee       string `toml:"OfferFee"`
	FailsafeDays   uint32 `toml:"FailsafeDays"`
	MinListingDays uint32 `toml:"MinListingDays"`
	MinKeyLength   int    `toml:"MinKeyLength"`
}

// Identity points at the property registry. An empty endpoint selects the
// local random issuer.
type Identity struct {
	Endpoint string `toml:"Endpoint"`
	TokenEnv string `toml:"TokenEnv"`
}

// Audit selects the relational audit log backend.
type Audit struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

// Auth configures bearer-token authentication for the RPC server. The token
// subject carries the caller's bech32 address.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	SecretEnv        string `toml:"SecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

// RateLimit bounds requests per remote address and mutating calls per
// authenticated caller.
type RateLimit struct {
	RequestsPerSecond  float64 `toml:"RequestsPerSecond"`
	Burst              int     `toml:"Burst"`
	MutationsPerMinute uint32  `toml:"MutationsPerMinute"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	// SampleRatio keeps this fraction of root spans. Zero keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Webhook forwards committed listing events to an HTTP endpoint.
type Webhook struct {
	Endpoint  string `toml:"Endpoint"`
	SecretEnv string `toml:"SecretEnv"`
}

// Pauses lists the modules that start paused.
type Pauses struct {
	Listing bool `toml:"Listing"`
}

// Allocation credits an initial balance to a participant.
type Allocation struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}
