package listing

import (
	"fmt"
	"math/big"
)

// CheckInvariant verifies the structural consistency of the listing: every
// offer has a refund ledger entry, at most one offer carries an acceptance
// date and, when one does, SuccessfulBuyer names that bidder.
func CheckInvariant(l *Listing) error {
	if l == nil {
		return fmt.Errorf("%w: nil listing", ErrInvariantViolation)
	}
	if l.Ledger == nil {
		return fmt.Errorf("%w: nil ledger", ErrInvariantViolation)
	}
	if len(l.Ledger.index) != len(l.Ledger.offers) {
		return fmt.Errorf("%w: index has %d entries for %d offers", ErrInvariantViolation, len(l.Ledger.index), len(l.Ledger.offers))
	}
	var (
		accepted      int
		acceptedBuyer [20]byte
	)
	for i, offer := range l.Ledger.offers {
		if pos, ok := l.Ledger.index[offer.Buyer]; !ok || pos != i {
			return fmt.Errorf("%w: offer %d not indexed", ErrInvariantViolation, i)
		}
		if !l.Ledger.HasRefundEntry(offer.Buyer) {
			return fmt.Errorf("%w: offer %x has no ledger entry", ErrInvariantViolation, offer.Buyer)
		}
		if offer.Accepted() {
			accepted++
			acceptedBuyer = offer.Buyer
		}
	}
	switch accepted {
	case 0:
		if l.HasAcceptedOffer() {
			return fmt.Errorf("%w: successful buyer %x set without accepted offer", ErrInvariantViolation, l.SuccessfulBuyer)
		}
	case 1:
		if l.SuccessfulBuyer != acceptedBuyer {
			return fmt.Errorf("%w: successful buyer %x does not match accepted offer %x", ErrInvariantViolation, l.SuccessfulBuyer, acceptedBuyer)
		}
	default:
		return fmt.Errorf("%w: %d offers accepted", ErrInvariantViolation, accepted)
	}
	return nil
}

// Conservation summarises the escrow accounting of a listing.
type Conservation struct {
	FeeBalance    *big.Int
	TotalRefunds  *big.Int
	TotalDeposits *big.Int
	TotalPaidOut  *big.Int
}

// Held returns the funds the vault must hold for this listing.
func (c Conservation) Held() *big.Int {
	return new(big.Int).Add(c.FeeBalance, c.TotalRefunds)
}

// Balanced reports fee + Σrefunds == deposits received − amounts paid out.
func (c Conservation) Balanced() bool {
	expected := new(big.Int).Sub(c.TotalDeposits, c.TotalPaidOut)
	return c.Held().Cmp(expected) == 0
}

// ConservationOf computes the accounting summary of l.
func ConservationOf(l *Listing) Conservation {
	if l == nil {
		return Conservation{FeeBalance: big.NewInt(0), TotalRefunds: big.NewInt(0), TotalDeposits: big.NewInt(0), TotalPaidOut: big.NewInt(0)}
	}
	return Conservation{
		FeeBalance:    cloneBigInt(l.FeeBalance),
		TotalRefunds:  l.Ledger.TotalRefunds(),
		TotalDeposits: cloneBigInt(l.TotalDeposits),
		TotalPaidOut:  cloneBigInt(l.TotalPaidOut),
	}
}

// CheckConservation fails when the escrow accounting does not balance.
func CheckConservation(l *Listing) error {
	c := ConservationOf(l)
	if !c.Balanced() {
		return fmt.Errorf("%w: fee %s + refunds %s != deposits %s - paid %s", ErrInvariantViolation, c.FeeBalance, c.TotalRefunds, c.TotalDeposits, c.TotalPaidOut)
	}
	return nil
}
