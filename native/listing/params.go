package listing

import (
	"fmt"
	"math/big"
)

const (
	DefaultFailsafeDays   uint32 = 180
	DefaultMinListingDays uint32 = 7
	DefaultMinKeyLength          = 32
)

var (
	DefaultMinDeposit = big.NewInt(1_000_000)
	DefaultOfferFee   = big.NewInt(10_000)
)

// Params holds the fixed economic and timing constants of a listing.
type Params struct {
	// MinDeposit is the smallest deposit accepted with an offer.
	MinDeposit *big.Int
	// OfferFee is retained from every deposit and credited to the fee balance.
	OfferFee *big.Int
	// FailsafeDays sets refundDate relative to creation. Listing periods must
	// stay strictly below it.
	FailsafeDays   uint32
	MinListingDays uint32
	MinKeyLength   int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinDeposit:     new(big.Int).Set(DefaultMinDeposit),
		OfferFee:       new(big.Int).Set(DefaultOfferFee),
		FailsafeDays:   DefaultFailsafeDays,
		MinListingDays: DefaultMinListingDays,
		MinKeyLength:   DefaultMinKeyLength,
	}
}

// Validate checks the parameters are internally consistent.
func (p Params) Validate() error {
	if p.MinDeposit == nil || p.MinDeposit.Sign() <= 0 {
		return fmt.Errorf("listing params: min deposit must be positive")
	}
	if p.OfferFee == nil || p.OfferFee.Sign() < 0 {
		return fmt.Errorf("listing params: offer fee must be non-negative")
	}
	if p.OfferFee.Cmp(p.MinDeposit) >= 0 {
		return fmt.Errorf("listing params: offer fee %s must be below min deposit %s", p.OfferFee, p.MinDeposit)
	}
	if p.MinListingDays == 0 {
		return fmt.Errorf("listing params: min listing days must be positive")
	}
	if p.MinListingDays >= p.FailsafeDays {
		return fmt.Errorf("listing params: min listing days %d must be below failsafe days %d", p.MinListingDays, p.FailsafeDays)
	}
	if p.MinKeyLength <= 0 {
		return fmt.Errorf("listing params: min key length must be positive")
	}
	return nil
}

func (p Params) clone() Params {
	clone := p
	clone.MinDeposit = cloneBigInt(p.MinDeposit)
	clone.OfferFee = cloneBigInt(p.OfferFee)
	return clone
}

func (p Params) failsafeSeconds() int64 {
	return int64(p.FailsafeDays) * SecondsPerDay
}
