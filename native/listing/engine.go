package listing

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"homeescrow/core/events"
	"homeescrow/core/types"
	nativecommon "homeescrow/native/common"
)

// Store opens state transactions for the engine.
type Store interface {
	Begin() (StateTx, error)
}

// StateTx buffers reads and writes until Commit. Rollback after Commit is a
// no-op so callers can always defer it.
type StateTx interface {
	ListingGet() (*Listing, bool, error)
	ListingPut(*Listing) error
	Balance(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
	VaultAddress() [20]byte
	Commit() error
	Rollback()
}

// IdentifierService issues the opaque 128-bit property identifier.
type IdentifierService interface {
	IssuePropertyID(ctx context.Context) (uuid.UUID, error)
}

type listingMutation struct {
	events []*types.Event
	// result is reported to the caller after a successful commit. It lets an
	// operation persist a transition and still fail, as a late submission does.
	result error
}

func committed(evts ...*types.Event) *listingMutation {
	return &listingMutation{events: evts}
}

// Engine owns the listing state machine and its escrow ledger. Every
// operation runs under a single lock inside one state transaction, so
// operations are totally ordered and either commit fully or leave no trace.
type Engine struct {
	mu      sync.Mutex
	state   Store
	issuer  IdentifierService
	pauses  nativecommon.PauseView
	emitter events.Emitter
	params  Params
	nowFn   func() int64
}

// NewEngine creates a listing engine with default parameters and a no-op
// emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		params:  DefaultParams(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state Store) { e.state = state }

// SetIdentifierService configures the issuer consulted once at creation.
func (e *Engine) SetIdentifierService(issuer IdentifierService) { e.issuer = issuer }

// SetPauses configures the access gate consulted by every mutating call.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetParams replaces the listing parameters after validating them.
func (e *Engine) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = p.clone()
	return nil
}

// Params returns a copy of the active parameters.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params.clone()
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(listingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Create initialises the listing. It fails when a listing already exists in
// the configured state.
func (e *Engine) Create(ctx context.Context, seller [20]byte, propertyAddress, publicKey string, price *big.Int, listingPeriodDays uint32) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.issuer == nil {
		return nil, errNilIssuer
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if seller == ([20]byte{}) {
		return nil, ErrUnauthorized
	}
	address := strings.TrimSpace(propertyAddress)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if len(publicKey) < e.params.MinKeyLength {
		return nil, ErrInvalidPublicKey
	}
	if listingPeriodDays < e.params.MinListingDays || listingPeriodDays >= e.params.FailsafeDays {
		return nil, ErrInvalidPeriod
	}

	tx, err := e.state.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, exists, err := tx.ListingGet(); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrListingExists
	}

	propertyID, err := e.issuer.IssuePropertyID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentifierService, err)
	}
	if propertyID == uuid.Nil {
		return nil, fmt.Errorf("%w: nil property id", ErrIdentifierService)
	}

	now := e.now()
	l := &Listing{
		Seller:          seller,
		PropertyAddress: address,
		PropertyID:      propertyID,
		SellerPublicKey: publicKey,
		ListPrice:       new(big.Int).Set(price),
		SalePrice:       big.NewInt(0),
		Status:          StatusActive,
		CreatedAt:       now,
		ExpirationDate:  now + int64(listingPeriodDays)*SecondsPerDay,
		RefundDate:      now + e.params.failsafeSeconds(),
		FeeBalance:      big.NewInt(0),
		TotalDeposits:   big.NewInt(0),
		TotalPaidOut:    big.NewInt(0),
		Ledger:          NewLedger(),
	}
	evt := NewListingEvent(EventTypeListingCreated, l)
	evt.Attributes["propertyAddress"] = address
	if err := e.commit(tx, l, []*types.Event{evt}, now); err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

// mutate runs fn against a private copy of the stored listing and commits the
// copy only when fn succeeds and the result passes verification.
func (e *Engine) mutate(fn func(tx StateTx, l *Listing, now int64) (*listingMutation, error)) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stored, ok, err := tx.ListingGet()
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	l := stored.Clone()
	now := e.now()
	m, err := fn(tx, l, now)
	if err != nil {
		return err
	}
	if err := e.commit(tx, l, m.events, now); err != nil {
		return err
	}
	return m.result
}

func (e *Engine) commit(tx StateTx, l *Listing, evts []*types.Event, now int64) error {
	if err := verifyState(tx, l); err != nil {
		return err
	}
	base := l.EventSeq
	l.EventSeq += uint64(len(evts))
	if err := tx.ListingPut(l); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for i, evt := range evts {
		evt.Sequence = base + uint64(i) + 1
		evt.Timestamp = now
		e.emit(evt)
	}
	return nil
}

// verifyState re-checks the structural invariant, conservation and vault
// solvency of the candidate state before it is committed.
func verifyState(tx StateTx, l *Listing) error {
	if err := CheckInvariant(l); err != nil {
		return err
	}
	if err := CheckConservation(l); err != nil {
		return err
	}
	vault, err := tx.Balance(tx.VaultAddress())
	if err != nil {
		return err
	}
	held := ConservationOf(l).Held()
	if vault.Cmp(held) != 0 {
		return fmt.Errorf("%w: vault holds %s, ledger owes %s", ErrInvariantViolation, vault, held)
	}
	return nil
}

func requireSeller(l *Listing, caller [20]byte) error {
	if caller != l.Seller {
		return ErrUnauthorized
	}
	return nil
}

func requireStatus(l *Listing, allowed ...Status) error {
	for _, status := range allowed {
		if l.Status == status {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidStatus, l.Status)
}

// Reposition changes the list price while the listing is active.
func (e *Engine) Reposition(caller [20]byte, newPrice *big.Int) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireSeller(l, caller); err != nil {
			return nil, err
		}
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if newPrice == nil || newPrice.Sign() <= 0 {
			return nil, ErrInvalidPrice
		}
		if newPrice.Cmp(l.ListPrice) == 0 {
			return nil, ErrPriceUnchanged
		}
		previous := cloneBigInt(l.ListPrice)
		l.ListPrice = new(big.Int).Set(newPrice)
		evt := NewListingEvent(EventTypeListingRepositioned, l)
		return committed(withAttr(evt, "previousPrice", amountAttr(previous))), nil
	})
}

// ExtendListing pushes the expiration date out by numDays. The refund date
// is never moved so the failsafe cannot be postponed by the seller.
func (e *Engine) ExtendListing(caller [20]byte, numDays uint32) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireSeller(l, caller); err != nil {
			return nil, err
		}
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if numDays == 0 {
			return nil, ErrInvalidDays
		}
		l.ExpirationDate += int64(numDays) * SecondsPerDay
		return committed(NewListingEvent(EventTypeListingExtended, l)), nil
	})
}

// WithdrawListing takes the property off the market.
func (e *Engine) WithdrawListing(caller [20]byte) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireSeller(l, caller); err != nil {
			return nil, err
		}
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if l.HasAcceptedOffer() {
			return nil, ErrOfferAccepted
		}
		l.Status = StatusWithdrawn
		return committed(NewListingEvent(EventTypeListingWithdrawn, l)), nil
	})
}

// ExpireListing moves an active listing past its expiration date to Expired.
// Anyone may call it.
func (e *Engine) ExpireListing(caller [20]byte) error {
	return e.mutate(func(_ StateTx, l *Listing, now int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if now <= l.ExpirationDate {
			return nil, ErrNotExpired
		}
		l.Status = StatusExpired
		evt := NewListingEvent(EventTypeListingExpired, l)
		return committed(withAttr(evt, "caller", fmt.Sprintf("%x", caller))), nil
	})
}

// AcceptOffer reveals the committed amount of buyer's offer and puts the
// listing under contract.
func (e *Engine) AcceptOffer(caller, buyer [20]byte, amount *big.Int, key []byte) error {
	return e.mutate(func(_ StateTx, l *Listing, now int64) (*listingMutation, error) {
		if err := requireSeller(l, caller); err != nil {
			return nil, err
		}
		if err := requireStatus(l, StatusActive); err != nil {
			return nil, err
		}
		if l.HasAcceptedOffer() {
			return nil, ErrOfferAccepted
		}
		offer, ok := l.Ledger.lookup(buyer)
		if !ok {
			return nil, ErrOfferNotFound
		}
		if offer.Withdrawn {
			return nil, ErrOfferWithdrawn
		}
		if len(key) == 0 {
			return nil, ErrEmptyKey
		}
		if !VerifyCommitment(offer.AmountHash, amount, key) {
			return nil, ErrCommitmentMismatch
		}
		offer.DateAccepted = now
		l.SuccessfulBuyer = buyer
		l.SalePrice = new(big.Int).Set(amount)
		l.Status = StatusContingent
		return committed(NewOfferEvent(EventTypeOfferAccepted, l, offer)), nil
	})
}

// PropertySold closes the sale. Only the accepted offer's title company may
// call it, and only once any mortgage company has committed.
func (e *Engine) PropertySold(caller [20]byte) error {
	return e.mutate(func(_ StateTx, l *Listing, _ int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusContingent); err != nil {
			return nil, err
		}
		offer, ok := l.Ledger.lookup(l.SuccessfulBuyer)
		if !ok {
			return nil, fmt.Errorf("%w: contingent listing without accepted offer", ErrInvariantViolation)
		}
		if caller != offer.TitleCompany {
			return nil, ErrUnauthorized
		}
		if !offer.Cash() && !offer.MortgageCommitment {
			return nil, ErrMortgagePending
		}
		l.Status = StatusSold
		return committed(NewListingEvent(EventTypeListingSold, l)), nil
	})
}

// TerminateAgreement lets the accepted buyer walk away during the inspection
// period. The listing returns to Active and the buyer keeps the right to
// reclaim the deposit minus the fee.
func (e *Engine) TerminateAgreement(caller [20]byte, reason string) error {
	return e.mutate(func(_ StateTx, l *Listing, now int64) (*listingMutation, error) {
		if err := requireStatus(l, StatusContingent); err != nil {
			return nil, err
		}
		if !l.HasAcceptedOffer() || caller != l.SuccessfulBuyer {
			return nil, ErrUnauthorized
		}
		offer, ok := l.Ledger.lookup(caller)
		if !ok {
			return nil, fmt.Errorf("%w: accepted buyer has no offer", ErrInvariantViolation)
		}
		if now > offer.InspectionDeadline() {
			return nil, ErrInspectionElapsed
		}
		offer.DateAccepted = 0
		offer.MortgageCommitment = false
		offer.Withdrawn = true
		l.SuccessfulBuyer = [20]byte{}
		l.Status = StatusActive
		evt := NewOfferEvent(EventTypeAgreementTerminated, l, offer)
		return committed(withAttr(evt, "reason", strings.TrimSpace(reason))), nil
	})
}
