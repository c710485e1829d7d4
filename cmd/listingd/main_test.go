package main

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"homeescrow/config"
	"homeescrow/core/state"
	"homeescrow/crypto"
	"homeescrow/native/listing"
	"homeescrow/storage"
)

const testSecret = "listingd-test-secret-listingd-test-secret"

func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := "DataDir = \"" + filepath.ToSlash(dir) + "\"\n" +
		"[auth]\nEnabled = true\nHMACSecret = \"" + testSecret + "\"\n" +
		"[audit]\nEnabled = false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return path, cfg
}

func seedListing(t *testing.T, cfg *config.Config) {
	t.Helper()
	db, err := storage.NewLevelDB(cfg.ResolvePath("state"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	manager, err := openState(cfg, db)
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	var seller, buyer, title [20]byte
	seller[0], buyer[0], title[0] = 1, 2, 3
	if _, err := manager.ApplyAllocations([]state.Allocation{{Address: buyer, Balance: big.NewInt(5_000_000)}}); err != nil {
		t.Fatalf("allocations: %v", err)
	}
	engine, _, err := buildEngine(cfg, manager)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	if _, err := engine.Create(context.Background(), seller, "1 Elm Street", strings.Repeat("p", 40), big.NewInt(500_000_000), 30); err != nil {
		t.Fatalf("create: %v", err)
	}
	hash, err := listing.CommitAmount(big.NewInt(480_000_000), []byte("reveal-key"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	err = engine.SubmitOffer(buyer, listing.OfferRequest{
		AmountHash:           hash,
		InspectionPeriodDays: 7,
		TitleCompany:         title,
		Deposit:              big.NewInt(1_500_000),
	})
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
}

func TestExportWritesLedger(t *testing.T) {
	path, cfg := writeTestConfig(t)
	seedListing(t, cfg)

	var out bytes.Buffer
	if err := runExport([]string{"-config", path, "-format", "csv"}, &out); err != nil {
		t.Fatalf("export csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "property_id,status,buyer") {
		t.Fatalf("unexpected header %q", lines[0])
	}

	target := filepath.Join(t.TempDir(), "ledger.parquet")
	out.Reset()
	if err := runExport([]string{"-config", path, "-format", "parquet", "-out", target}, &out); err != nil {
		t.Fatalf("export parquet: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Fatalf("parquet magic missing")
	}

	if err := runExport([]string{"-config", path, "-format", "xml"}, &out); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestExportWithoutListing(t *testing.T) {
	path, _ := writeTestConfig(t)
	if err := runExport([]string{"-config", path}, &bytes.Buffer{}); err != listing.ErrListingNotFound {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestTokenForAddress(t *testing.T) {
	path, _ := writeTestConfig(t)
	var addr [20]byte
	addr[19] = 9
	var out bytes.Buffer
	err := runToken([]string{"-config", path, "-address", crypto.FormatAddress(addr), "-scopes", "admin, read"}, &out)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if parts := strings.Split(strings.TrimSpace(out.String()), "."); len(parts) != 3 {
		t.Fatalf("expected a JWT, got %q", out.String())
	}
	if err := runToken([]string{"-config", path}, &out); err == nil {
		t.Fatalf("expected error without subject")
	}
}

func TestSplitScopes(t *testing.T) {
	got := splitScopes(" admin,, read ")
	if len(got) != 2 || got[0] != "admin" || got[1] != "read" {
		t.Fatalf("unexpected scopes %v", got)
	}
	if splitScopes("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestAuditDSNResolvesRelativeFiles(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/var/lib/listingd"
	cfg.Audit.Driver = "sqlite"
	cfg.Audit.DSN = "file:audit.db?_pragma=busy_timeout(5000)"
	if got := auditDSN(cfg); got != "file:/var/lib/listingd/audit.db?_pragma=busy_timeout(5000)" {
		t.Fatalf("unexpected dsn %q", got)
	}
	cfg.Audit.DSN = "file::memory:?cache=shared"
	if got := auditDSN(cfg); got != cfg.Audit.DSN {
		t.Fatalf("memory dsn rewritten to %q", got)
	}
	cfg.Audit.Driver = "postgres"
	cfg.Audit.DSN = "host=db user=escrow"
	if got := auditDSN(cfg); got != cfg.Audit.DSN {
		t.Fatalf("postgres dsn rewritten to %q", got)
	}
}
