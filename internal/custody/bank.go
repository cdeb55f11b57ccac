// Package custody models the pool's asset custody collaborator: external
// account balances plus the pool's own holding, in native asset units.
package custody

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNonPositiveAmount = errors.New("custody: amount must be positive")
	ErrInsufficient      = errors.New("custody: insufficient balance")
)

// Custody is the asset-transfer capability set the vault consumes.
type Custody interface {
	TransferIn(from uuid.UUID, amount int64) error
	TransferOut(to uuid.UUID, amount int64) error
	Balance() int64
}

// Bank is the in-memory Custody implementation. External accounts are
// funded via Credit (a settlement deposit arriving from outside, or test
// setup).
type Bank struct {
	accounts map[uuid.UUID]int64
	pool     int64
}

func NewBank() *Bank {
	return &Bank{accounts: make(map[uuid.UUID]int64)}
}

// Credit funds an external account from outside the system.
func (b *Bank) Credit(account uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	b.accounts[account] += amount
	return nil
}

// TransferIn moves assets from an external account into the pool.
func (b *Bank) TransferIn(from uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if b.accounts[from] < amount {
		return ErrInsufficient
	}
	b.accounts[from] -= amount
	b.pool += amount
	return nil
}

// TransferOut moves assets from the pool to an external account.
func (b *Bank) TransferOut(to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if b.pool < amount {
		return ErrInsufficient
	}
	b.pool -= amount
	b.accounts[to] += amount
	return nil
}

// Balance is the pool's own holding.
func (b *Bank) Balance() int64 {
	return b.pool
}

// AccountBalance reads an external account, for queries and tests.
func (b *Bank) AccountBalance(account uuid.UUID) int64 {
	return b.accounts[account]
}

// Snapshot returns the pool balance and a copy of nonzero accounts.
func (b *Bank) Snapshot() (int64, map[uuid.UUID]int64) {
	cp := make(map[uuid.UUID]int64, len(b.accounts))
	for k, v := range b.accounts {
		if v != 0 {
			cp[k] = v
		}
	}
	return b.pool, cp
}

// RestoreBank rebuilds a bank from snapshot state.
func RestoreBank(pool int64, accounts map[uuid.UUID]int64) (*Bank, error) {
	if pool < 0 {
		return nil, errors.New("custody: negative pool balance in snapshot")
	}
	b := NewBank()
	b.pool = pool
	for acct, bal := range accounts {
		if bal < 0 {
			return nil, errors.New("custody: negative account balance in snapshot")
		}
		b.accounts[acct] = bal
	}
	return b, nil
}
