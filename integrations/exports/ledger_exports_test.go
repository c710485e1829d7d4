package exports

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/google/uuid"

	"homeescrow/native/listing"
)

func sampleListing(t *testing.T) *listing.Listing {
	t.Helper()
	var buyerA, buyerB, title [20]byte
	buyerA[19] = 0x0A
	buyerB[19] = 0x0B
	title[19] = 0x77
	hash, err := listing.CommitAmount(big.NewInt(250_000_000), []byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	ledger, err := listing.RestoreLedger([]listing.LedgerEntry{
		{
			Offer: &listing.Offer{
				Buyer:                buyerA,
				AmountHash:           hash,
				TitleCompany:         title,
				InspectionPeriodDays: 10,
				Deposit:              big.NewInt(5_000_000),
				DateSubmitted:        1_700_000_000,
				DateAccepted:         1_700_086_400,
			},
			Refund: big.NewInt(4_990_000),
		},
		{
			Offer: &listing.Offer{
				Buyer:         buyerB,
				TitleCompany:  title,
				Deposit:       big.NewInt(2_000_000),
				DateSubmitted: 1_700_000_500,
				Withdrawn:     true,
			},
			Refund: big.NewInt(1_990_000),
		},
	})
	if err != nil {
		t.Fatalf("restore ledger: %v", err)
	}
	return &listing.Listing{
		PropertyID:      uuid.MustParse("2f1c9a0e-4d55-4b4c-9f43-1a2b3c4d5e6f"),
		Status:          listing.StatusContingent,
		SuccessfulBuyer: buyerA,
		Ledger:          ledger,
	}
}

func TestLedgerCSV(t *testing.T) {
	data, checksum, err := LedgerCSV(sampleListing(t))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || len(checksum) != 64 {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(lines))
	}
	if lines[0] != strings.Join(ledgerHeader, ",") {
		t.Fatalf("missing header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "4990000") || !strings.HasSuffix(lines[1], ",true") {
		t.Fatalf("unexpected accepted row: %s", lines[1])
	}
	if !strings.Contains(lines[2], "contingent") || !strings.HasSuffix(lines[2], "true,false") {
		t.Fatalf("unexpected withdrawn row: %s", lines[2])
	}
}

func TestLedgerCSVChecksumStable(t *testing.T) {
	_, first, err := LedgerCSV(sampleListing(t))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	_, second, err := LedgerCSV(sampleListing(t))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if first != second {
		t.Fatalf("checksum drift: %s != %s", first, second)
	}
}

func TestLedgerJSONL(t *testing.T) {
	data, checksum, err := LedgerJSONL(sampleListing(t))
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two rows, got %d", len(lines))
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first["deposit"] != "5000000" || first["successful"] != true {
		t.Fatalf("unexpected payload: %s", lines[0])
	}
	if !strings.HasPrefix(first["buyer"].(string), "home1") {
		t.Fatalf("expected bech32 buyer: %v", first["buyer"])
	}
}

func TestLedgerExportsEmpty(t *testing.T) {
	data, _, err := LedgerJSONL(nil)
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected empty payload, got %q", data)
	}
}

func TestWriteLedgerParquet(t *testing.T) {
	var buf bytes.Buffer
	count, err := WriteLedgerParquet(&buf, sampleListing(t))
	if err != nil {
		t.Fatalf("parquet: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two rows, got %d", count)
	}
	out := buf.Bytes()
	if len(out) < 8 || string(out[:4]) != "PAR1" || string(out[len(out)-4:]) != "PAR1" {
		t.Fatalf("missing parquet magic")
	}
}
