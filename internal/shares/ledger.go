// Package shares provides the fungible share-token collaborator.
package shares

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNonPositiveAmount = errors.New("shares: amount must be positive")
	ErrInsufficient      = errors.New("shares: insufficient balance")
)

// Ledger is the share-token capability set the vault consumes. Amounts are
// share units at the 18-decimal scale.
type Ledger interface {
	Mint(account uuid.UUID, amount int64) error
	Burn(account uuid.UUID, amount int64) error
	Transfer(from, to uuid.UUID, amount int64) error
	TotalSupply() int64
	BalanceOf(account uuid.UUID) int64
}

// Book is the in-memory Ledger implementation. Not safe for concurrent
// use; the vault serializes all access.
type Book struct {
	balances map[uuid.UUID]int64
	supply   int64
}

func NewBook() *Book {
	return &Book{balances: make(map[uuid.UUID]int64)}
}

func (b *Book) Mint(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	b.balances[account] += amount
	b.supply += amount
	return nil
}

func (b *Book) Burn(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if b.balances[account] < amount {
		return ErrInsufficient
	}
	b.balances[account] -= amount
	b.supply -= amount
	return nil
}

func (b *Book) Transfer(from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if b.balances[from] < amount {
		return ErrInsufficient
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}

func (b *Book) TotalSupply() int64 {
	return b.supply
}

func (b *Book) BalanceOf(account uuid.UUID) int64 {
	return b.balances[account]
}

// Balances returns a copy of all nonzero balances, for snapshots.
func (b *Book) Balances() map[uuid.UUID]int64 {
	cp := make(map[uuid.UUID]int64, len(b.balances))
	for k, v := range b.balances {
		if v != 0 {
			cp[k] = v
		}
	}
	return cp
}

// RestoreBook rebuilds a book from snapshot balances.
func RestoreBook(balances map[uuid.UUID]int64) (*Book, error) {
	b := NewBook()
	for acct, bal := range balances {
		if bal < 0 {
			return nil, errors.New("shares: negative balance in snapshot")
		}
		b.balances[acct] = bal
		b.supply += bal
	}
	return b, nil
}
