package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"homeescrow/native/listing"
)

// LedgerJSONL builds a JSON Lines export of the listing's offer ledger and
// returns the serialised payload alongside a checksum.
func LedgerJSONL(l *listing.Listing) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range LedgerRows(l) {
		payload := map[string]interface{}{
			"property_id":         row.PropertyID,
			"status":              row.Status,
			"buyer":               row.Buyer,
			"amount_hash":         row.AmountHash,
			"deposit":             row.Deposit,
			"refund":              row.Refund,
			"title_company":       row.TitleCompany,
			"mortgage_company":    row.MortgageCompany,
			"inspection_days":     row.InspectionDays,
			"submitted_at":        row.SubmittedAt,
			"accepted_at":         row.AcceptedAt,
			"mortgage_commitment": row.MortgageCommitment,
			"withdrawn":           row.Withdrawn,
			"successful":          row.Successful,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
