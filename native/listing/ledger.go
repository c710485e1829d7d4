package listing

import (
	"fmt"
	"math/big"
)

// Ledger keeps the offers in submission order together with an index from
// bidder to position and the per-bidder refund balances. The index is derived
// from the ordered slice and never mutated independently of it.
type Ledger struct {
	offers  []*Offer
	index   map[[20]byte]int
	refunds map[[20]byte]*big.Int
}

// LedgerEntry is the flat form of one bidder's state used for persistence
// and exports.
type LedgerEntry struct {
	Offer  *Offer
	Refund *big.Int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		index:   make(map[[20]byte]int),
		refunds: make(map[[20]byte]*big.Int),
	}
}

// RestoreLedger rebuilds a ledger from persisted entries, rejecting duplicate
// or absent bidders.
func RestoreLedger(entries []LedgerEntry) (*Ledger, error) {
	ledger := NewLedger()
	for i, entry := range entries {
		if entry.Offer == nil {
			return nil, fmt.Errorf("ledger entry %d: nil offer", i)
		}
		if entry.Refund != nil && entry.Refund.Sign() < 0 {
			return nil, fmt.Errorf("ledger entry %d: negative refund", i)
		}
		if err := ledger.append(entry.Offer.Clone(), cloneBigInt(entry.Refund)); err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", i, err)
		}
	}
	return ledger, nil
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := NewLedger()
	if l == nil {
		return clone
	}
	clone.offers = make([]*Offer, 0, len(l.offers))
	for i, offer := range l.offers {
		clone.offers = append(clone.offers, offer.Clone())
		clone.index[offer.Buyer] = i
	}
	for buyer, amount := range l.refunds {
		clone.refunds[buyer] = cloneBigInt(amount)
	}
	return clone
}

// Len returns the number of offers ever recorded.
func (l *Ledger) Len() int {
	if l == nil {
		return 0
	}
	return len(l.offers)
}

// Offer returns a copy of the offer recorded for buyer.
func (l *Ledger) Offer(buyer [20]byte) (*Offer, bool) {
	offer, ok := l.lookup(buyer)
	if !ok {
		return nil, false
	}
	return offer.Clone(), true
}

// Offers returns copies of all offers in submission order.
func (l *Ledger) Offers() []*Offer {
	if l == nil {
		return nil
	}
	out := make([]*Offer, 0, len(l.offers))
	for _, offer := range l.offers {
		out = append(out, offer.Clone())
	}
	return out
}

// Refund returns the withdrawable balance of buyer (zero when absent).
func (l *Ledger) Refund(buyer [20]byte) *big.Int {
	if l == nil {
		return big.NewInt(0)
	}
	return cloneBigInt(l.refunds[buyer])
}

// HasRefundEntry reports whether buyer has a refund ledger entry, even a
// zeroed one.
func (l *Ledger) HasRefundEntry(buyer [20]byte) bool {
	if l == nil {
		return false
	}
	_, ok := l.refunds[buyer]
	return ok
}

// TotalRefunds sums every outstanding refund balance.
func (l *Ledger) TotalRefunds() *big.Int {
	total := big.NewInt(0)
	if l == nil {
		return total
	}
	for _, amount := range l.refunds {
		total.Add(total, amount)
	}
	return total
}

// Entries flattens the ledger in submission order.
func (l *Ledger) Entries() []LedgerEntry {
	if l == nil {
		return nil
	}
	out := make([]LedgerEntry, 0, len(l.offers))
	for _, offer := range l.offers {
		out = append(out, LedgerEntry{Offer: offer.Clone(), Refund: cloneBigInt(l.refunds[offer.Buyer])})
	}
	return out
}

func (l *Ledger) lookup(buyer [20]byte) (*Offer, bool) {
	if l == nil {
		return nil, false
	}
	pos, ok := l.index[buyer]
	if !ok || pos < 0 || pos >= len(l.offers) {
		return nil, false
	}
	return l.offers[pos], true
}

func (l *Ledger) append(offer *Offer, refund *big.Int) error {
	if offer.Buyer == ([20]byte{}) {
		return fmt.Errorf("offer buyer must not be zero")
	}
	if _, exists := l.index[offer.Buyer]; exists {
		return ErrOfferExists
	}
	l.index[offer.Buyer] = len(l.offers)
	l.offers = append(l.offers, offer)
	l.refunds[offer.Buyer] = refund
	return nil
}

func (l *Ledger) setRefund(buyer [20]byte, amount *big.Int) {
	l.refunds[buyer] = cloneBigInt(amount)
}
