package exports

import (
	"encoding/hex"
	"math/big"
	"time"

	"homeescrow/crypto"
	"homeescrow/native/listing"
)

// LedgerRow is the flat export form of one bidder's ledger entry. Amounts are
// rendered in base-10 so large deposits survive every format.
type LedgerRow struct {
	PropertyID         string
	Status             string
	Buyer              string
	AmountHash         string
	Deposit            string
	Refund             string
	TitleCompany       string
	MortgageCompany    string
	InspectionDays     uint32
	SubmittedAt        string
	AcceptedAt         string
	MortgageCommitment bool
	Withdrawn          bool
	Successful         bool
}

// LedgerRows flattens a listing's ledger in submission order.
func LedgerRows(l *listing.Listing) []LedgerRow {
	if l == nil || l.Ledger == nil {
		return nil
	}
	entries := l.Ledger.Entries()
	rows := make([]LedgerRow, 0, len(entries))
	for _, entry := range entries {
		offer := entry.Offer
		if offer == nil {
			continue
		}
		rows = append(rows, LedgerRow{
			PropertyID:         l.PropertyID.String(),
			Status:             l.Status.String(),
			Buyer:              crypto.FormatAddress(offer.Buyer),
			AmountHash:         "0x" + hex.EncodeToString(offer.AmountHash[:]),
			Deposit:            amountString(offer.Deposit),
			Refund:             amountString(entry.Refund),
			TitleCompany:       crypto.FormatAddress(offer.TitleCompany),
			MortgageCompany:    crypto.FormatAddress(offer.MortgageCompany),
			InspectionDays:     offer.InspectionPeriodDays,
			SubmittedAt:        unixString(offer.DateSubmitted),
			AcceptedAt:         unixString(offer.DateAccepted),
			MortgageCommitment: offer.MortgageCommitment,
			Withdrawn:          offer.Withdrawn,
			Successful:         l.SuccessfulBuyer != [20]byte{} && l.SuccessfulBuyer == offer.Buyer,
		})
	}
	return rows
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func unixString(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
