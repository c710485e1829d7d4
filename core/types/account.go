package types

import "math/big"

// Account is the balance view of a single address.
type Account struct {
	Address [20]byte `json:"address"`
	Balance *big.Int `json:"balance"`
}
