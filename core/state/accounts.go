package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"homeescrow/core/types"
)

type storedAccount struct {
	Balance *big.Int
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

// GetAccount returns the balance view of addr inside the transaction.
func (tx *Txn) GetAccount(addr [20]byte) (*types.Account, error) {
	balance, err := tx.Balance(addr)
	if err != nil {
		return nil, err
	}
	return &types.Account{Address: addr, Balance: balance}, nil
}

// Balance returns the balance of addr, zero when the account is unknown.
func (tx *Txn) Balance(addr [20]byte) (*big.Int, error) {
	var stored storedAccount
	ok, err := tx.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Balance), nil
}

// SetBalance overwrites the balance of addr. Balances are 256-bit unsigned.
func (tx *Txn) SetBalance(addr [20]byte, amount *big.Int) error {
	if addr == ([20]byte{}) {
		return fmt.Errorf("address must not be zero")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("balance exceeds 256 bits")
	}
	return tx.KVPut(accountKey(addr), storedAccount{Balance: new(big.Int).Set(amount)})
}

// Transfer moves amount from one account to another. Both legs are buffered
// in the transaction and land together on Commit.
func (tx *Txn) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	if from == to {
		return fmt.Errorf("transfer to self")
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("transfer amount exceeds 256 bits")
	}
	fromBalance, err := tx.balanceWord(from)
	if err != nil {
		return err
	}
	toBalance, err := tx.balanceWord(to)
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return fmt.Errorf("insufficient balance: have %s, need %s", fromBalance.Dec(), value.Dec())
	}
	fromBalance.Sub(fromBalance, value)
	if _, overflow := toBalance.AddOverflow(toBalance, value); overflow {
		return fmt.Errorf("recipient balance overflow")
	}
	if err := tx.SetBalance(from, fromBalance.ToBig()); err != nil {
		return err
	}
	return tx.SetBalance(to, toBalance.ToBig())
}

func (tx *Txn) balanceWord(addr [20]byte) (*uint256.Int, error) {
	balance, err := tx.Balance(addr)
	if err != nil {
		return nil, err
	}
	word, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, fmt.Errorf("stored balance of %x exceeds 256 bits", addr)
	}
	return word, nil
}
