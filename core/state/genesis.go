package state

import (
	"fmt"
	"math/big"
)

// Allocation credits an initial balance to an account.
type Allocation struct {
	Address [20]byte
	Balance *big.Int
}

// ApplyAllocations credits the allocations once. It reports false without
// touching state when a previous run already applied them.
func (m *Manager) ApplyAllocations(allocs []Allocation) (bool, error) {
	tx, err := m.BeginTxn()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	var applied bool
	ok, err := tx.KVGet(genesisMarkerBytes, &applied)
	if err != nil {
		return false, err
	}
	if ok && applied {
		return false, nil
	}
	for i, alloc := range allocs {
		if alloc.Address == tx.VaultAddress() {
			return false, fmt.Errorf("genesis allocation %d: vault cannot be pre-funded", i)
		}
		current, err := tx.Balance(alloc.Address)
		if err != nil {
			return false, err
		}
		if alloc.Balance == nil || alloc.Balance.Sign() <= 0 {
			return false, fmt.Errorf("genesis allocation %d: balance must be positive", i)
		}
		if err := tx.SetBalance(alloc.Address, new(big.Int).Add(current, alloc.Balance)); err != nil {
			return false, fmt.Errorf("genesis allocation %d: %w", i, err)
		}
	}
	if err := tx.KVPut(genesisMarkerBytes, true); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
