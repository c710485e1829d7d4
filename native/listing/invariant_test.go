package listing

import (
	"errors"
	"math/big"
	"testing"
)

func invariantListing(t *testing.T) *Listing {
	t.Helper()
	l := &Listing{
		Seller:        seller,
		Status:        StatusActive,
		FeeBalance:    big.NewInt(20),
		TotalDeposits: big.NewInt(200),
		TotalPaidOut:  big.NewInt(0),
		Ledger:        NewLedger(),
	}
	_ = l.Ledger.append(testOffer(bidderX), big.NewInt(90))
	_ = l.Ledger.append(testOffer(bidderY), big.NewInt(90))
	return l
}

func TestCheckInvariant(t *testing.T) {
	l := invariantListing(t)
	if err := CheckInvariant(l); err != nil {
		t.Fatalf("healthy listing: %v", err)
	}

	accepted := l.Clone()
	offer, _ := accepted.Ledger.lookup(bidderX)
	offer.DateAccepted = 1
	if err := CheckInvariant(accepted); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("accepted offer without successful buyer: %v", err)
	}
	accepted.SuccessfulBuyer = bidderX
	if err := CheckInvariant(accepted); err != nil {
		t.Fatalf("consistent acceptance: %v", err)
	}
	accepted.SuccessfulBuyer = bidderY
	if err := CheckInvariant(accepted); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("mismatched successful buyer: %v", err)
	}

	double := accepted.Clone()
	double.SuccessfulBuyer = bidderX
	second, _ := double.Ledger.lookup(bidderY)
	second.DateAccepted = 2
	if err := CheckInvariant(double); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("double acceptance: %v", err)
	}

	dangling := l.Clone()
	dangling.SuccessfulBuyer = outsider
	if err := CheckInvariant(dangling); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("buyer without accepted offer: %v", err)
	}

	missing := l.Clone()
	delete(missing.Ledger.refunds, bidderY)
	if err := CheckInvariant(missing); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("offer without ledger entry: %v", err)
	}
}

func TestCheckConservation(t *testing.T) {
	l := invariantListing(t)
	if err := CheckConservation(l); err != nil {
		t.Fatalf("balanced listing: %v", err)
	}
	l.Ledger.setRefund(bidderX, big.NewInt(0))
	if err := CheckConservation(l); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("zeroed refund without payout: %v", err)
	}
	l.TotalPaidOut = big.NewInt(90)
	if err := CheckConservation(l); err != nil {
		t.Fatalf("recorded payout: %v", err)
	}
	if held := ConservationOf(l).Held(); held.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("unexpected held amount %s", held)
	}
}

func TestDepositPayoutDecisions(t *testing.T) {
	l := invariantListing(t)
	l.RefundDate = 1000
	if _, err := DepositPayout(l, bidderX, 1000); !errors.Is(err, ErrWithdrawLocked) {
		t.Fatalf("expected ErrWithdrawLocked, got %v", err)
	}
	p, err := DepositPayout(l, bidderX, 1001)
	if err != nil {
		t.Fatalf("failsafe payout: %v", err)
	}
	if p.Recipient != bidderX || p.Amount.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("unexpected payout %+v", p)
	}
	for _, status := range []Status{StatusSold, StatusExpired, StatusWithdrawn} {
		l.Status = status
		if !CanWithdrawDeposit(l, bidderY, 0) {
			t.Fatalf("status %s must unlock deposits", status)
		}
	}
	if _, err := FeePayout(l, bidderX); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
