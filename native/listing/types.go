package listing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// ModuleName identifies the listing module to the pause guard.
const ModuleName = "listing"

// SecondsPerDay converts the day-denominated listing windows into timestamps.
const SecondsPerDay int64 = 86_400

// Status represents the lifecycle state of the listing.
type Status uint8

const (
	StatusActive Status = iota
	StatusContingent
	StatusSold
	StatusExpired
	StatusWithdrawn
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusContingent, StatusSold, StatusExpired, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusSold || s == StatusExpired || s == StatusWithdrawn
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusContingent:
		return "contingent"
	case StatusSold:
		return "sold"
	case StatusExpired:
		return "expired"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus converts the canonical lowercase name back into a Status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return StatusActive, nil
	case "contingent":
		return StatusContingent, nil
	case "sold":
		return StatusSold, nil
	case "expired":
		return StatusExpired, nil
	case "withdrawn":
		return StatusWithdrawn, nil
	default:
		return 0, fmt.Errorf("unknown listing status %q", raw)
	}
}

// Offer is a bidder's proposal. The amount is only known through AmountHash
// until the seller reveals it on acceptance.
type Offer struct {
	Buyer                [20]byte
	AmountHash           [32]byte
	MortgageCompany      [20]byte
	TitleCompany         [20]byte
	EncryptedTerms       []byte
	InspectionPeriodDays uint32
	Deposit              *big.Int
	DateSubmitted        int64
	DateAccepted         int64
	MortgageCommitment   bool
	Withdrawn            bool
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.EncryptedTerms = append([]byte(nil), o.EncryptedTerms...)
	clone.Deposit = cloneBigInt(o.Deposit)
	return &clone
}

// Cash reports whether the offer has no mortgage company attached.
func (o *Offer) Cash() bool {
	return o.MortgageCompany == ([20]byte{})
}

// Accepted reports whether the offer currently carries an acceptance date.
func (o *Offer) Accepted() bool {
	return o.DateAccepted != 0
}

// InspectionDeadline is the last second at which the accepted buyer may still
// terminate the agreement.
func (o *Offer) InspectionDeadline() int64 {
	return o.DateAccepted + int64(o.InspectionPeriodDays)*SecondsPerDay
}

// Listing is the single property-for-sale record together with its offer
// ledger. Each engine instance owns exactly one listing.
type Listing struct {
	Seller          [20]byte
	PropertyAddress string
	PropertyID      uuid.UUID
	SellerPublicKey string
	ListPrice       *big.Int
	SalePrice       *big.Int
	Status          Status
	CreatedAt       int64
	ExpirationDate  int64
	RefundDate      int64
	SuccessfulBuyer [20]byte
	FeeBalance      *big.Int
	// TotalDeposits and TotalPaidOut feed the conservation check.
	TotalDeposits *big.Int
	TotalPaidOut  *big.Int
	// EventSeq is the sequence number of the last emitted event.
	EventSeq uint64
	Ledger   *Ledger
}

// Clone returns a deep copy of the listing including its ledger.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.ListPrice = cloneBigInt(l.ListPrice)
	clone.SalePrice = cloneBigInt(l.SalePrice)
	clone.FeeBalance = cloneBigInt(l.FeeBalance)
	clone.TotalDeposits = cloneBigInt(l.TotalDeposits)
	clone.TotalPaidOut = cloneBigInt(l.TotalPaidOut)
	clone.Ledger = l.Ledger.Clone()
	return &clone
}

// HasAcceptedOffer reports whether a buyer is currently under contract.
func (l *Listing) HasAcceptedOffer() bool {
	return l.SuccessfulBuyer != ([20]byte{})
}

// SanitizeListing validates a listing loaded from storage and fills nil
// amounts, returning a cloned instance.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if strings.TrimSpace(clone.PropertyAddress) == "" {
		return nil, fmt.Errorf("listing property address must not be empty")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid listing status: %d", clone.Status)
	}
	if clone.Ledger == nil {
		clone.Ledger = NewLedger()
	}
	for _, amt := range []*big.Int{clone.ListPrice, clone.SalePrice, clone.FeeBalance, clone.TotalDeposits, clone.TotalPaidOut} {
		if amt.Sign() < 0 {
			return nil, fmt.Errorf("listing amounts must be non-negative")
		}
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
