package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RedactedValue replaces sensitive attribute values.
const RedactedValue = "[REDACTED]"

// plainKeys may be logged verbatim by MaskField.
var plainKeys = []string{
	"component", "env", "error", "event", "message", "method",
	"reason", "sequence", "service", "severity", "status", "timestamp",
}

func isPlainKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, candidate := range plainKeys {
		if candidate == key {
			return true
		}
	}
	return false
}

// MaskField builds a string attribute whose value is hidden unless the key is
// one of the plain keys. Blank values pass through.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) != "" && !isPlainKey(key) {
		value = RedactedValue
	}
	return slog.String(key, value)
}

// Fingerprint is the hex of the first four bytes of keccak256(secret). It lets
// operators correlate a secret across log lines without exposing it.
func Fingerprint(secret []byte) string {
	if len(secret) == 0 {
		return ""
	}
	return hex.EncodeToString(ethcrypto.Keccak256(secret)[:4])
}
