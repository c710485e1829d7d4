package listing

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// CommitAmount binds amount to key without revealing either:
// keccak256(uint256 big-endian amount || key).
func CommitAmount(amount *big.Int, key []byte) ([32]byte, error) {
	if amount == nil || amount.Sign() < 0 {
		return [32]byte{}, ErrInvalidAmount
	}
	if len(key) == 0 {
		return [32]byte{}, ErrEmptyKey
	}
	word, overflow := uint256.FromBig(amount)
	if overflow {
		return [32]byte{}, ErrInvalidAmount
	}
	encoded := word.Bytes32()
	return ethcrypto.Keccak256Hash(encoded[:], key), nil
}

// VerifyCommitment reports whether (amount, key) opens commitment.
func VerifyCommitment(commitment [32]byte, amount *big.Int, key []byte) bool {
	if commitment == ([32]byte{}) {
		return false
	}
	computed, err := CommitAmount(amount, key)
	if err != nil {
		return false
	}
	return computed == commitment
}
