package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"

	"homeescrow/core/events"
	"homeescrow/core/types"
)

var errInjectedTransfer = errors.New("injected transfer failure")

// mockState keeps committed state in memory. Transactions work on copies and
// only publish them on Commit.
type mockState struct {
	listing  *Listing
	balances map[[20]byte]*big.Int
	vault    [20]byte
	// failTransferTo makes Transfer fail when crediting the given address.
	failTransferTo *[20]byte
	commits        int
}

func newMockState() *mockState {
	return &mockState{
		balances: make(map[[20]byte]*big.Int),
		vault:    newTestAddress(0xEE),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	return cloneBigInt(m.balances[addr])
}

func (m *mockState) Begin() (StateTx, error) {
	tx := &mockTx{state: m, balances: make(map[[20]byte]*big.Int)}
	for addr, amount := range m.balances {
		tx.balances[addr] = cloneBigInt(amount)
	}
	if m.listing != nil {
		tx.listing = m.listing.Clone()
	}
	return tx, nil
}

type mockTx struct {
	state    *mockState
	listing  *Listing
	balances map[[20]byte]*big.Int
	done     bool
}

func (tx *mockTx) ListingGet() (*Listing, bool, error) {
	if tx.listing == nil {
		return nil, false, nil
	}
	return tx.listing.Clone(), true, nil
}

func (tx *mockTx) ListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	tx.listing = sanitized
	return nil
}

func (tx *mockTx) Balance(addr [20]byte) (*big.Int, error) {
	return cloneBigInt(tx.balances[addr]), nil
}

func (tx *mockTx) Transfer(from, to [20]byte, amount *big.Int) error {
	if tx.state.failTransferTo != nil && *tx.state.failTransferTo == to {
		return errInjectedTransfer
	}
	src := cloneBigInt(tx.balances[from])
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	tx.balances[from] = src.Sub(src, amount)
	tx.balances[to] = new(big.Int).Add(cloneBigInt(tx.balances[to]), amount)
	return nil
}

func (tx *mockTx) VaultAddress() [20]byte { return tx.state.vault }

func (tx *mockTx) Commit() error {
	if tx.done {
		return fmt.Errorf("transaction closed")
	}
	tx.done = true
	tx.state.listing = tx.listing
	tx.state.balances = tx.balances
	tx.state.commits++
	return nil
}

func (tx *mockTx) Rollback() { tx.done = true }

type fixedIssuer struct {
	id  uuid.UUID
	err error
}

func (f fixedIssuer) IssuePropertyID(context.Context) (uuid.UUID, error) {
	return f.id, f.err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	body, ok := events.Body(evt)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, body.Clone())
}

func (r *recordingEmitter) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

type clock struct{ now int64 }

func (c *clock) Now() int64          { return c.now }
func (c *clock) advanceDays(d int64) { c.now += d * SecondsPerDay }
