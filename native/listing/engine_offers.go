package listing

import (
	"fmt"
	"math/big"

	"homeescrow/core/types"
)

// OfferRequest carries the bidder-supplied fields of a new offer.
type OfferRequest struct {
	AmountHash           [32]byte
	EncryptedTerms       []byte
	InspectionPeriodDays uint32
	TitleCompany         [20]byte
	MortgageCompany      [20]byte
	Deposit              *big.Int
}

// OfferTerms replaces the mutable fields of an existing offer. Escrowed funds
// are never touched by an update.
type OfferTerms struct {
	AmountHash           [32]byte
	MortgageCompany      [20]byte
	TitleCompany         [20]byte
	EncryptedTerms       []byte
	InspectionPeriodDays uint32
}

// SubmitOffer records a new offer for caller and moves the deposit into the
// listing vault. A submission observed after the expiration date moves the
// listing to Expired, takes no deposit and returns ErrListingExpired.
func (e *Engine) SubmitOffer(caller [20]byte, req OfferRequest) error {
	return e.mutate(func(tx StateTx, l *Listing, now int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if now > l.ExpirationDate {
			l.Status = StatusExpired
			return &listingMutation{
				events: []*types.Event{NewListingEvent(EventTypeListingExpired, l)},
				result: ErrListingExpired,
			}, nil
		}
		if caller == ([20]byte{}) || caller == tx.VaultAddress() {
			return nil, ErrUnauthorized
		}
		if caller == l.Seller {
			return nil, ErrSellerCannotBid
		}
		if _, exists := l.Ledger.lookup(caller); exists {
			return nil, ErrOfferExists
		}
		if req.AmountHash == ([32]byte{}) {
			return nil, ErrZeroCommitment
		}
		if req.Deposit == nil || req.Deposit.Cmp(e.params.MinDeposit) < 0 {
			return nil, ErrDepositTooLow
		}
		if req.TitleCompany == ([20]byte{}) {
			return nil, ErrTitleRequired
		}
		balance, err := tx.Balance(caller)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(req.Deposit) < 0 {
			return nil, ErrInsufficientFunds
		}
		if err := tx.Transfer(caller, tx.VaultAddress(), req.Deposit); err != nil {
			return nil, fmt.Errorf("collect deposit: %w", err)
		}

		fee := cloneBigInt(e.params.OfferFee)
		refund := new(big.Int).Sub(req.Deposit, fee)
		offer := &Offer{
			Buyer:                caller,
			AmountHash:           req.AmountHash,
			MortgageCompany:      req.MortgageCompany,
			TitleCompany:         req.TitleCompany,
			EncryptedTerms:       append([]byte(nil), req.EncryptedTerms...),
			InspectionPeriodDays: req.InspectionPeriodDays,
			Deposit:              new(big.Int).Set(req.Deposit),
			DateSubmitted:        now,
		}
		if err := l.Ledger.append(offer, refund); err != nil {
			return nil, err
		}
		l.FeeBalance = new(big.Int).Add(l.FeeBalance, fee)
		l.TotalDeposits = new(big.Int).Add(l.TotalDeposits, req.Deposit)

		evt := NewOfferEvent(EventTypeOfferSubmitted, l, offer)
		withAttr(evt, "deposit", amountAttr(req.Deposit))
		withAttr(evt, "fee", amountAttr(fee))
		return committed(evt), nil
	})
}

// UpdateOffer overwrites the commitment, approvers and terms of caller's offer.
func (e *Engine) UpdateOffer(caller [20]byte, terms OfferTerms) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		offer, ok := l.Ledger.lookup(caller)
		if !ok {
			return nil, ErrOfferNotFound
		}
		if offer.Withdrawn {
			return nil, ErrOfferWithdrawn
		}
		if terms.AmountHash == ([32]byte{}) {
			return nil, ErrZeroCommitment
		}
		if terms.TitleCompany == ([20]byte{}) {
			return nil, ErrTitleRequired
		}
		offer.AmountHash = terms.AmountHash
		offer.MortgageCompany = terms.MortgageCompany
		offer.TitleCompany = terms.TitleCompany
		offer.EncryptedTerms = append([]byte(nil), terms.EncryptedTerms...)
		offer.InspectionPeriodDays = terms.InspectionPeriodDays
		return committed(NewOfferEvent(EventTypeOfferUpdated, l, offer)), nil
	})
}

// ApproveMortgage records the lender's commitment on the accepted offer.
func (e *Engine) ApproveMortgage(caller, buyer [20]byte) error {
	return e.setMortgageCommitment(caller, buyer, true)
}

// RevokeMortgageApproval withdraws a previously recorded lender commitment.
func (e *Engine) RevokeMortgageApproval(caller, buyer [20]byte) error {
	return e.setMortgageCommitment(caller, buyer, false)
}

func (e *Engine) setMortgageCommitment(caller, buyer [20]byte, approved bool) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusContingent); err != nil {
			return nil, err
		}
		offer, ok := l.Ledger.lookup(buyer)
		if !ok {
			return nil, ErrOfferNotFound
		}
		if buyer != l.SuccessfulBuyer {
			return nil, ErrOfferNotAccepted
		}
		if offer.Cash() || caller != offer.MortgageCompany {
			return nil, ErrUnauthorized
		}
		offer.MortgageCommitment = approved
		eventType := EventTypeMortgageApproved
		if !approved {
			eventType = EventTypeMortgageRevoked
		}
		return committed(NewOfferEvent(eventType, l, offer)), nil
	})
}

// WithdrawOffer retracts caller's offer. The record stays in the ledger and
// the refund balance becomes withdrawable immediately. The accepted buyer
// must terminate instead.
func (e *Engine) WithdrawOffer(caller [20]byte) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusActive, StatusContingent); err != nil {
			return nil, err
		}
		offer, ok := l.Ledger.lookup(caller)
		if !ok {
			return nil, ErrOfferNotFound
		}
		if l.HasAcceptedOffer() && caller == l.SuccessfulBuyer {
			return nil, ErrOfferAccepted
		}
		if offer.Withdrawn {
			return nil, ErrOfferWithdrawn
		}
		offer.Withdrawn = true
		return committed(NewOfferEvent(EventTypeOfferWithdrawn, l, offer)), nil
	})
}

// WithdrawDeposit zeroes caller's refund balance and pays it out of the vault
// in the same transaction.
func (e *Engine) WithdrawDeposit(caller [20]byte) (*Payout, error) {
	var payout *Payout
	err := e.mutate(func(tx StateTx, l *Listing, now int64) (*listingMutation, error) {
		p, err := DepositPayout(l, caller, now)
		if err != nil {
			return nil, err
		}
		l.Ledger.setRefund(caller, big.NewInt(0))
		if err := e.payOut(tx, l, p); err != nil {
			return nil, err
		}
		payout = p
		return committed(NewPayoutEvent(EventTypeDepositWithdrawn, l, p)), nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

// WithdrawFeeBalance sweeps the accumulated offer fees to the seller.
func (e *Engine) WithdrawFeeBalance(caller [20]byte) (*Payout, error) {
	var payout *Payout
	err := e.mutate(func(tx StateTx, l *Listing, _ int64) (*listingMutation, error) {
		p, err := FeePayout(l, caller)
		if err != nil {
			return nil, err
		}
		l.FeeBalance = big.NewInt(0)
		if err := e.payOut(tx, l, p); err != nil {
			return nil, err
		}
		payout = p
		return committed(NewPayoutEvent(EventTypeFeeBalanceWithdrawn, l, p)), nil
	})
	if err != nil {
		return nil, err
	}
	return payout, nil
}

func (e *Engine) payOut(tx StateTx, l *Listing, p *Payout) error {
	if err := tx.Transfer(tx.VaultAddress(), p.Recipient, p.Amount); err != nil {
		return fmt.Errorf("pay out: %w", err)
	}
	l.TotalPaidOut = new(big.Int).Add(l.TotalPaidOut, p.Amount)
	return nil
}

func (e *Engine) snapshot() (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.state.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	l, ok, err := tx.ListingGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return l.Clone(), nil
}

// Listing returns a snapshot of the listing including its ledger.
func (e *Engine) Listing() (*Listing, error) {
	return e.snapshot()
}

// Offer returns the offer submitted by buyer.
func (e *Engine) Offer(buyer [20]byte) (*Offer, error) {
	l, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	offer, ok := l.Ledger.Offer(buyer)
	if !ok {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

// Offers returns every offer in submission order.
func (e *Engine) Offers() ([]*Offer, error) {
	l, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return l.Ledger.Offers(), nil
}

// Refund returns the withdrawable balance owed to buyer.
func (e *Engine) Refund(buyer [20]byte) (*big.Int, error) {
	l, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return l.Ledger.Refund(buyer), nil
}

// FeeBalance returns the accumulated offer fees.
func (e *Engine) FeeBalance() (*big.Int, error) {
	l, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(l.FeeBalance), nil
}

// CanWithdrawDeposit evaluates the withdrawal predicate for caller at the
// current time.
func (e *Engine) CanWithdrawDeposit(caller [20]byte) (bool, error) {
	l, err := e.snapshot()
	if err != nil {
		return false, err
	}
	return CanWithdrawDeposit(l, caller, e.now()), nil
}

// CheckInvariant runs the structural invariant against the stored listing.
func (e *Engine) CheckInvariant() error {
	l, err := e.snapshot()
	if err != nil {
		return err
	}
	return CheckInvariant(l)
}

// Conservation reports the escrow accounting of the stored listing.
func (e *Engine) Conservation() (Conservation, error) {
	l, err := e.snapshot()
	if err != nil {
		return Conservation{}, err
	}
	return ConservationOf(l), nil
}
