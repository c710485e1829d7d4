package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"homeescrow/storage"
)

var errTxnClosed = errors.New("state: transaction already closed")

// Txn overlays buffered writes on top of the committed database. Reads see
// the transaction's own writes first. Commit flushes the overlay in a single
// storage batch and Rollback discards it.
type Txn struct {
	manager *Manager
	writes  map[string][]byte
	closed  bool
}

func (tx *Txn) get(hashed []byte) ([]byte, error) {
	if tx.closed {
		return nil, errTxnClosed
	}
	if value, ok := tx.writes[string(hashed)]; ok {
		return value, nil
	}
	data, err := tx.manager.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (tx *Txn) put(hashed, value []byte) error {
	if tx.closed {
		return errTxnClosed
	}
	tx.writes[string(hashed)] = append([]byte(nil), value...)
	return nil
}

// KVPut buffers an RLP-encoded value under the hashed key.
func (tx *Txn) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(kvKey(key), encoded)
}

// KVGet decodes the value stored under key, preferring buffered writes.
func (tx *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.get(kvKey(key))
	if err != nil {
		return false, err
	}
	return decodeValue(data, out)
}

// Len reports the number of buffered writes.
func (tx *Txn) Len() int { return len(tx.writes) }

// Commit applies every buffered write atomically.
func (tx *Txn) Commit() error {
	if tx.closed {
		return errTxnClosed
	}
	tx.closed = true
	if len(tx.writes) == 0 {
		return nil
	}
	tx.manager.mu.Lock()
	defer tx.manager.mu.Unlock()
	batch := tx.manager.db.NewBatch()
	for key, value := range tx.writes {
		batch.Put([]byte(key), value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Rollback discards buffered writes. It is safe to call after Commit.
func (tx *Txn) Rollback() {
	tx.closed = true
	tx.writes = nil
}

// VaultAddress returns the account holding escrowed funds.
func (tx *Txn) VaultAddress() [20]byte { return tx.manager.vault }
