package config

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"homeescrow/core/state"
	"homeescrow/crypto"
	"homeescrow/native/listing"
)

// ListingParams converts the listing section into engine parameters.
func (c *Config) ListingParams() (listing.Params, error) {
	params := listing.DefaultParams()
	minDeposit, err := parseUintAmount(c.Listing.MinDeposit)
	if err != nil {
		return params, fmt.Errorf("invalid listing.MinDeposit: %w", err)
	}
	if minDeposit != nil {
		params.MinDeposit = minDeposit
	}
	fee, err := parseUintAmount(c.Listing.OfferFee)
	if err != nil {
		return params, fmt.Errorf("invalid listing.OfferFee: %w", err)
	}
	if fee != nil {
		params.OfferFee = fee
	}
	if c.Listing.FailsafeDays != 0 {
		params.FailsafeDays = c.Listing.FailsafeDays
	}
	if c.Listing.MinListingDays != 0 {
		params.MinListingDays = c.Listing.MinListingDays
	}
	if c.Listing.MinKeyLength != 0 {
		params.MinKeyLength = c.Listing.MinKeyLength
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// Vault returns the escrow vault account. Without an explicit address the
// vault is derived from a fixed tag so it can never collide with a key-derived
// participant address by accident.
func (c *Config) Vault() ([20]byte, error) {
	if strings.TrimSpace(c.VaultAddress) == "" {
		var vault [20]byte
		copy(vault[:], ethcrypto.Keccak256([]byte("home-escrow/vault"))[12:])
		return vault, nil
	}
	vault, err := crypto.ParseAddress(c.VaultAddress)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid VaultAddress: %w", err)
	}
	return vault, nil
}

// GenesisAllocations parses the configured allocations.
func (c *Config) GenesisAllocations() ([]state.Allocation, error) {
	out := make([]state.Allocation, 0, len(c.Allocations))
	for i, alloc := range c.Allocations {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if addr == ([20]byte{}) {
			return nil, fmt.Errorf("allocations[%d]: address required", i)
		}
		balance, err := parseUintAmount(alloc.Balance)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if balance == nil || balance.Sign() == 0 {
			return nil, fmt.Errorf("allocations[%d]: balance must be positive", i)
		}
		out = append(out, state.Allocation{Address: addr, Balance: balance})
	}
	return out, nil
}

// parseUintAmount parses a base-10 unsigned amount. Empty input yields nil.
func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	trimmed = strings.ReplaceAll(trimmed, "_", "")
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
