package listing

import "errors"

// Precondition failures. They leave no trace in state and can be retried
// with different input.
var (
	ErrListingExists      = errors.New("listing: already created")
	ErrListingNotFound    = errors.New("listing: not created")
	ErrInvalidAddress     = errors.New("listing: property address must not be empty")
	ErrInvalidPrice       = errors.New("listing: price must be positive")
	ErrPriceUnchanged     = errors.New("listing: price unchanged")
	ErrInvalidPublicKey   = errors.New("listing: seller public key too short")
	ErrInvalidPeriod      = errors.New("listing: listing period out of range")
	ErrInvalidDays        = errors.New("listing: day count must be positive")
	ErrUnauthorized       = errors.New("listing: caller not authorized")
	ErrInvalidStatus      = errors.New("listing: operation not allowed in current status")
	ErrListingExpired     = errors.New("listing: expired")
	ErrNotExpired         = errors.New("listing: expiration date not reached")
	ErrOfferAccepted      = errors.New("listing: an offer is already accepted")
	ErrOfferExists        = errors.New("listing: caller already has an offer")
	ErrOfferNotFound      = errors.New("listing: offer not found")
	ErrOfferWithdrawn     = errors.New("listing: offer withdrawn")
	ErrOfferNotAccepted   = errors.New("listing: offer is not the accepted offer")
	ErrSellerCannotBid    = errors.New("listing: seller cannot submit offers")
	ErrZeroCommitment     = errors.New("listing: amount commitment must not be zero")
	ErrCommitmentMismatch = errors.New("listing: amount does not match commitment")
	ErrInvalidAmount      = errors.New("listing: amount out of range")
	ErrEmptyKey           = errors.New("listing: commitment key must not be empty")
	ErrDepositTooLow      = errors.New("listing: deposit below minimum")
	ErrTitleRequired      = errors.New("listing: title company required")
	ErrMortgagePending    = errors.New("listing: mortgage commitment outstanding")
	ErrInspectionElapsed  = errors.New("listing: inspection period elapsed")
	ErrWithdrawLocked     = errors.New("listing: deposit not yet withdrawable")
	ErrNothingToWithdraw  = errors.New("listing: nothing to withdraw")
	ErrInsufficientFunds  = errors.New("listing: insufficient funds")
	ErrIdentifierService  = errors.New("listing: identifier service failed")
)

// ErrInvariantViolation marks a defect in the engine itself. It is never the
// result of valid external input.
var ErrInvariantViolation = errors.New("listing: invariant violation")

var (
	errNilState  = errors.New("listing engine: state not configured")
	errNilIssuer = errors.New("listing engine: identifier service not configured")
)
