package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"

	"homeescrow/native/listing"
)

var ledgerHeader = []string{
	"property_id", "status", "buyer", "amount_hash", "deposit", "refund",
	"title_company", "mortgage_company", "inspection_days", "submitted_at",
	"accepted_at", "mortgage_commitment", "withdrawn", "successful",
}

// LedgerCSV builds a CSV export of the listing's offer ledger and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func LedgerCSV(l *listing.Listing) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(ledgerHeader); err != nil {
		return nil, "", err
	}
	for _, row := range LedgerRows(l) {
		record := []string{
			row.PropertyID,
			row.Status,
			row.Buyer,
			row.AmountHash,
			row.Deposit,
			row.Refund,
			row.TitleCompany,
			row.MortgageCompany,
			strconv.FormatUint(uint64(row.InspectionDays), 10),
			row.SubmittedAt,
			row.AcceptedAt,
			strconv.FormatBool(row.MortgageCommitment),
			strconv.FormatBool(row.Withdrawn),
			strconv.FormatBool(row.Successful),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
