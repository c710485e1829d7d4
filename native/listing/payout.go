package listing

import "math/big"

// Payout is a withdrawal that has been authorised but not yet applied.
type Payout struct {
	Recipient [20]byte
	Amount    *big.Int
}

// CanWithdrawDeposit is the single source of truth for deposit withdrawal
// eligibility.
func CanWithdrawDeposit(l *Listing, caller [20]byte, now int64) bool {
	if l == nil {
		return false
	}
	switch l.Status {
	case StatusSold, StatusExpired, StatusWithdrawn:
		return true
	}
	if now > l.RefundDate {
		return true
	}
	offer, ok := l.Ledger.lookup(caller)
	if !ok {
		// Kept for parity with the documented predicate. Records are never
		// deleted, so only callers that never bid reach this branch and
		// their refund balance is zero.
		return true
	}
	return offer.Withdrawn
}

// DepositPayout decides whether caller may withdraw their refund balance and
// for how much. It does not mutate the listing.
func DepositPayout(l *Listing, caller [20]byte, now int64) (*Payout, error) {
	if l == nil {
		return nil, ErrListingNotFound
	}
	if !CanWithdrawDeposit(l, caller, now) {
		return nil, ErrWithdrawLocked
	}
	amount := l.Ledger.Refund(caller)
	if amount.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	return &Payout{Recipient: caller, Amount: amount}, nil
}

// FeePayout decides whether caller may sweep the fee balance.
func FeePayout(l *Listing, caller [20]byte) (*Payout, error) {
	if l == nil {
		return nil, ErrListingNotFound
	}
	if caller != l.Seller {
		return nil, ErrUnauthorized
	}
	if l.FeeBalance == nil || l.FeeBalance.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	return &Payout{Recipient: caller, Amount: new(big.Int).Set(l.FeeBalance)}, nil
}
