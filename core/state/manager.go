package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"homeescrow/native/listing"
	"homeescrow/storage"
)

// Manager persists the listing snapshot and the account balances that fund
// it. Every write goes through a Txn so a state transition lands in the
// database as one batch.
type Manager struct {
	db    storage.Database
	vault [20]byte
	// mu serialises commits so overlays are applied in order.
	mu sync.Mutex
}

// NewManager creates a state manager backed by db. Escrowed deposits are held
// by the vault account.
func NewManager(db storage.Database, vault [20]byte) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	if vault == ([20]byte{}) {
		return nil, fmt.Errorf("state: vault address must not be zero")
	}
	return &Manager{db: db, vault: vault}, nil
}

// VaultAddress returns the account holding escrowed funds.
func (m *Manager) VaultAddress() [20]byte { return m.vault }

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Begin opens a transaction over the current committed state.
func (m *Manager) Begin() (listing.StateTx, error) {
	return m.BeginTxn()
}

// BeginTxn is Begin with the concrete transaction type.
func (m *Manager) BeginTxn() (*Txn, error) {
	if m == nil || m.db == nil {
		return nil, fmt.Errorf("state: manager unavailable")
	}
	return &Txn{manager: m, writes: make(map[string][]byte)}, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	tx, err := m.BeginTxn()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.KVPut(key, value); err != nil {
		return err
	}
	return tx.Commit()
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeValue(data, out)
}

func decodeValue(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Listing loads the committed listing snapshot.
func (m *Manager) Listing() (*listing.Listing, bool, error) {
	tx, err := m.BeginTxn()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()
	return tx.ListingGet()
}

// Balance returns the committed balance of addr.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	tx, err := m.BeginTxn()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.Balance(addr)
}
