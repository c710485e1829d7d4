package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestSetupEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "listingd", Env: "test", Level: "debug", Output: &buf})
	logger.Debug("listing created", MaskField("sellerPublicKey", "pk"), MaskField("status", "active"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %s in %v", key, line)
		}
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
	if line["sellerPublicKey"] != RedactedValue {
		t.Fatalf("secret not masked: %v", line["sellerPublicKey"])
	}
	if line["status"] != "active" {
		t.Fatalf("allowlisted key masked: %v", line["status"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Options{Service: "listingd", Level: "warn", Output: &buf})
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint(nil) != "" {
		t.Fatalf("empty secret must yield empty fingerprint")
	}
	fp := Fingerprint([]byte("reveal"))
	if len(fp) != 8 || fp == Fingerprint([]byte("other")) {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "listingd.log")
	w := RotatingFile(FileOptions{Path: path, MaxSizeMB: 1})
	defer w.Close()
	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestMaskFieldKeepsBlankValues(t *testing.T) {
	if attr := MaskField("seller_public_key", " "); attr.Value.String() != " " {
		t.Fatalf("blank value replaced: %q", attr.Value.String())
	}
	if attr := MaskField(" Status ", "open"); attr.Value.String() != "open" {
		t.Fatalf("plain key masked: %q", attr.Value.String())
	}
}
