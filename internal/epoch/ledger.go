// Package epoch keeps the append-only sequence of finalized share prices.
package epoch

import (
	"errors"

	vmath "VaultLedger/internal/math"
)

var (
	ErrNonPositivePrice = errors.New("epoch: finalized price must be positive")
)

// Record is one finalized epoch. Immutable once appended.
type Record struct {
	PriceWad  int64 `json:"price_wad"`
	Timestamp int64 `json:"timestamp"` // unix seconds
}

// Ledger indexes finalized records by epoch number. Epoch 0 is seeded at
// construction with price 1.0, so the current epoch always exists.
type Ledger struct {
	records []Record
}

// NewLedger seeds epoch 0 at price 1.0 with the given timestamp.
func NewLedger(now int64) *Ledger {
	return &Ledger{records: []Record{{PriceWad: vmath.WAD, Timestamp: now}}}
}

// Restore rebuilds a ledger from previously finalized records, for
// snapshot recovery. The slice must start at epoch 0.
func Restore(records []Record) (*Ledger, error) {
	if len(records) == 0 {
		return nil, errors.New("epoch: restore requires at least epoch 0")
	}
	for _, r := range records {
		if r.PriceWad <= 0 {
			return nil, ErrNonPositivePrice
		}
	}
	cp := make([]Record, len(records))
	copy(cp, records)
	return &Ledger{records: cp}, nil
}

// Current returns the highest finalized epoch number.
func (l *Ledger) Current() int64 {
	return int64(len(l.records)) - 1
}

// PriceAt returns the finalized price for epoch n, or 0 when n has not
// been finalized yet. Zero is the "not finalized" sentinel, never a valid
// price.
func (l *Ledger) PriceAt(n int64) int64 {
	if n < 0 || n >= int64(len(l.records)) {
		return 0
	}
	return l.records[n].PriceWad
}

// TimestampAt returns the finalization timestamp for epoch n, or 0 when n
// has not been finalized.
func (l *Ledger) TimestampAt(n int64) int64 {
	if n < 0 || n >= int64(len(l.records)) {
		return 0
	}
	return l.records[n].Timestamp
}

// Append finalizes the next epoch and returns its number.
func (l *Ledger) Append(priceWad, timestamp int64) (int64, error) {
	if priceWad <= 0 {
		return 0, ErrNonPositivePrice
	}
	l.records = append(l.records, Record{PriceWad: priceWad, Timestamp: timestamp})
	return l.Current(), nil
}

// Records returns a copy of all finalized records, epoch 0 first.
func (l *Ledger) Records() []Record {
	cp := make([]Record, len(l.records))
	copy(cp, l.records)
	return cp
}
