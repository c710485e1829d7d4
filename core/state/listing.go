package state

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"homeescrow/native/listing"
)

// storedListing mirrors listing.Listing with RLP-friendly field types.
type storedListing struct {
	Seller          [20]byte
	PropertyAddress string
	PropertyID      [16]byte
	SellerPublicKey string
	ListPrice       *big.Int
	SalePrice       *big.Int
	Status          uint8
	CreatedAt       uint64
	ExpirationDate  uint64
	RefundDate      uint64
	SuccessfulBuyer [20]byte
	FeeBalance      *big.Int
	TotalDeposits   *big.Int
	TotalPaidOut    *big.Int
	EventSeq        uint64
	Offers          []storedOffer
}

type storedOffer struct {
	Buyer                [20]byte
	AmountHash           [32]byte
	MortgageCompany      [20]byte
	TitleCompany         [20]byte
	EncryptedTerms       []byte
	InspectionPeriodDays uint32
	Deposit              *big.Int
	DateSubmitted        uint64
	DateAccepted         uint64
	MortgageCommitment   bool
	Withdrawn            bool
	Refund               *big.Int
}

func toUnix(ts int64) (uint64, error) {
	if ts < 0 {
		return 0, fmt.Errorf("negative timestamp %d", ts)
	}
	return uint64(ts), nil
}

func newStoredListing(l *listing.Listing) (*storedListing, error) {
	stored := &storedListing{
		Seller:          l.Seller,
		PropertyAddress: l.PropertyAddress,
		PropertyID:      l.PropertyID,
		SellerPublicKey: l.SellerPublicKey,
		ListPrice:       l.ListPrice,
		SalePrice:       l.SalePrice,
		Status:          uint8(l.Status),
		SuccessfulBuyer: l.SuccessfulBuyer,
		FeeBalance:      l.FeeBalance,
		TotalDeposits:   l.TotalDeposits,
		TotalPaidOut:    l.TotalPaidOut,
		EventSeq:        l.EventSeq,
	}
	var err error
	if stored.CreatedAt, err = toUnix(l.CreatedAt); err != nil {
		return nil, err
	}
	if stored.ExpirationDate, err = toUnix(l.ExpirationDate); err != nil {
		return nil, err
	}
	if stored.RefundDate, err = toUnix(l.RefundDate); err != nil {
		return nil, err
	}
	for _, entry := range l.Ledger.Entries() {
		o := entry.Offer
		so := storedOffer{
			Buyer:                o.Buyer,
			AmountHash:           o.AmountHash,
			MortgageCompany:      o.MortgageCompany,
			TitleCompany:         o.TitleCompany,
			EncryptedTerms:       o.EncryptedTerms,
			InspectionPeriodDays: o.InspectionPeriodDays,
			Deposit:              o.Deposit,
			MortgageCommitment:   o.MortgageCommitment,
			Withdrawn:            o.Withdrawn,
			Refund:               entry.Refund,
		}
		if so.DateSubmitted, err = toUnix(o.DateSubmitted); err != nil {
			return nil, err
		}
		if so.DateAccepted, err = toUnix(o.DateAccepted); err != nil {
			return nil, err
		}
		stored.Offers = append(stored.Offers, so)
	}
	return stored, nil
}

func (s *storedListing) toListing() (*listing.Listing, error) {
	entries := make([]listing.LedgerEntry, 0, len(s.Offers))
	for _, so := range s.Offers {
		entries = append(entries, listing.LedgerEntry{
			Offer: &listing.Offer{
				Buyer:                so.Buyer,
				AmountHash:           so.AmountHash,
				MortgageCompany:      so.MortgageCompany,
				TitleCompany:         so.TitleCompany,
				EncryptedTerms:       so.EncryptedTerms,
				InspectionPeriodDays: so.InspectionPeriodDays,
				Deposit:              so.Deposit,
				DateSubmitted:        int64(so.DateSubmitted),
				DateAccepted:         int64(so.DateAccepted),
				MortgageCommitment:   so.MortgageCommitment,
				Withdrawn:            so.Withdrawn,
			},
			Refund: so.Refund,
		})
	}
	ledger, err := listing.RestoreLedger(entries)
	if err != nil {
		return nil, err
	}
	l := &listing.Listing{
		Seller:          s.Seller,
		PropertyAddress: s.PropertyAddress,
		PropertyID:      uuid.UUID(s.PropertyID),
		SellerPublicKey: s.SellerPublicKey,
		ListPrice:       s.ListPrice,
		SalePrice:       s.SalePrice,
		Status:          listing.Status(s.Status),
		CreatedAt:       int64(s.CreatedAt),
		ExpirationDate:  int64(s.ExpirationDate),
		RefundDate:      int64(s.RefundDate),
		SuccessfulBuyer: s.SuccessfulBuyer,
		FeeBalance:      s.FeeBalance,
		TotalDeposits:   s.TotalDeposits,
		TotalPaidOut:    s.TotalPaidOut,
		EventSeq:        s.EventSeq,
		Ledger:          ledger,
	}
	return listing.SanitizeListing(l)
}

// ListingGet loads the listing snapshot visible to the transaction.
func (tx *Txn) ListingGet() (*listing.Listing, bool, error) {
	var stored storedListing
	ok, err := tx.KVGet(listingKeyBytes, &stored)
	if err != nil {
		return nil, false, fmt.Errorf("state: decode listing: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	l, err := stored.toListing()
	if err != nil {
		return nil, false, fmt.Errorf("state: restore listing: %w", err)
	}
	return l, true, nil
}

// ListingPut buffers the listing snapshot for the next Commit.
func (tx *Txn) ListingPut(l *listing.Listing) error {
	sanitized, err := listing.SanitizeListing(l)
	if err != nil {
		return err
	}
	stored, err := newStoredListing(sanitized)
	if err != nil {
		return err
	}
	return tx.KVPut(listingKeyBytes, stored)
}

var _ listing.StateTx = (*Txn)(nil)
