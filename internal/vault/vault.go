// Package vault implements the pooled-fund settlement engine: epoch
// ledger, fee accrual, cashflow reconciliation and lazy FIFO settlement
// of queued deposit and withdrawal tickets.
//
// Deposit and Withdraw drain the caller's matured tickets before
// admitting the new request. The drain settles already-finalized epochs
// and stands on its own: if the request is then rejected, the
// settlements are retained, leaving the same state as a Claim followed
// by the failed request.
package vault

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/custody"
	"VaultLedger/internal/epoch"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/shares"
	"VaultLedger/internal/ticket"
)

var (
	ErrZeroAmount     = errors.New("vault: zero amount")
	ErrNotOperator    = errors.New("vault: caller is not the operator")
	ErrReentrant      = errors.New("vault: reentrant call")
	ErrInvalidNav     = errors.New("vault: nav would imply an invalid share price")
	ErrFeeOutOfBounds = errors.New("vault: fee rate zero or above policy ceiling")
	ErrStaleTimestamp = errors.New("vault: nav timestamp precedes the last epoch")
)

// Policy ceilings for owner-mutable fee rates.
const (
	MaxMgmtFeeWad = vmath.WAD / 10 // 10% annual
	MaxPerfFeeWad = vmath.WAD / 2  // 50% of gain
)

// Action distinguishes the two queued request kinds.
type Action uint8

const (
	ActionDeposit Action = iota
	ActionWithdraw
)

func (a Action) String() string {
	if a == ActionDeposit {
		return "deposit"
	}
	return "withdraw"
}

// Position is one outstanding queued request. Amount is native asset
// units for a deposit, share units for a withdrawal.
type Position struct {
	Owner       uuid.UUID `json:"owner"`
	Action      Action    `json:"action"`
	Amount      int64     `json:"amount"`
	TargetEpoch int64     `json:"target_epoch"`
}

// Config fixes the vault's immutable identity and initial fee policy.
type Config struct {
	Operator        uuid.UUID
	AssetDecimals   uint8
	MgmtFeeWad      int64
	PerfFeeWad      int64
	SkipClampedMint bool
}

// Vault is the single-writer pool state machine. All methods must be
// externally serialized; the execution token only catches genuine
// reentrancy (a collaborator calling back into the vault mid-operation).
type Vault struct {
	log           zerolog.Logger
	scaler        vmath.Scaler
	assetDecimals uint8

	operator uuid.UUID
	self     uuid.UUID // the pool's own share-custody account

	epochs  *epoch.Ledger
	shares  shares.Ledger
	tickets ticket.Registry
	bank    custody.Custody

	mgmtFeeWad      int64
	perfFeeWad      int64
	skipClampedMint bool

	highWaterWad          int64
	positions             map[uint64]Position
	pendingDeposits       int64 // native units, sum over live deposit positions
	pendingWithdrawShares int64 // share units, sum over live withdraw positions not yet priced
	withdrawReserve       int64 // native units set aside for matured withdrawals

	busy atomic.Bool
}

// New builds a vault around its collaborators, seeding epoch 0 at price
// 1.0 with the supplied timestamp.
func New(cfg Config, sh shares.Ledger, tk ticket.Registry, bank custody.Custody, now int64, log zerolog.Logger) (*Vault, error) {
	if cfg.Operator == (uuid.UUID{}) {
		return nil, errors.New("vault: operator must be set")
	}
	scaler, err := vmath.NewScaler(cfg.AssetDecimals)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if err := validateFees(cfg.MgmtFeeWad, cfg.PerfFeeWad); err != nil {
		return nil, err
	}
	return &Vault{
		log:             log,
		scaler:          scaler,
		assetDecimals:   cfg.AssetDecimals,
		operator:        cfg.Operator,
		self:            uuid.New(),
		epochs:          epoch.NewLedger(now),
		shares:          sh,
		tickets:         tk,
		bank:            bank,
		mgmtFeeWad:      cfg.MgmtFeeWad,
		perfFeeWad:      cfg.PerfFeeWad,
		skipClampedMint: cfg.SkipClampedMint,
		highWaterWad:    vmath.WAD,
		positions:       make(map[uint64]Position),
	}, nil
}

func validateFees(mgmtWad, perfWad int64) error {
	if mgmtWad <= 0 || mgmtWad > MaxMgmtFeeWad {
		return fmt.Errorf("%w: management %d", ErrFeeOutOfBounds, mgmtWad)
	}
	if perfWad <= 0 || perfWad > MaxPerfFeeWad {
		return fmt.Errorf("%w: performance %d", ErrFeeOutOfBounds, perfWad)
	}
	return nil
}

// enter acquires the execution token for a mutating entry point.
func (v *Vault) enter() error {
	if !v.busy.CompareAndSwap(false, true) {
		return ErrReentrant
	}
	return nil
}

func (v *Vault) exit() {
	v.busy.Store(false)
}

// SetFees updates the fee policy within the policy ceilings. Operator only.
func (v *Vault) SetFees(caller uuid.UUID, mgmtWad, perfWad int64) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if caller != v.operator {
		return ErrNotOperator
	}
	if err := validateFees(mgmtWad, perfWad); err != nil {
		return err
	}
	v.mgmtFeeWad = mgmtWad
	v.perfFeeWad = perfWad
	v.log.Info().Int64("management_fee_wad", mgmtWad).Int64("performance_fee_wad", perfWad).Msg("fees updated")
	return nil
}

// Read accessors. Safe to call between operations; the engine serializes
// them with the mutating entry points.

func (v *Vault) CurrentEpoch() int64          { return v.epochs.Current() }
func (v *Vault) PriceAt(n int64) int64        { return v.epochs.PriceAt(n) }
func (v *Vault) TimestampAt(n int64) int64    { return v.epochs.TimestampAt(n) }
func (v *Vault) HighWaterMark() int64         { return v.highWaterWad }
func (v *Vault) PendingDeposits() int64       { return v.pendingDeposits }
func (v *Vault) PendingWithdrawShares() int64 { return v.pendingWithdrawShares }
func (v *Vault) WithdrawReserve() int64       { return v.withdrawReserve }
func (v *Vault) Operator() uuid.UUID          { return v.operator }
func (v *Vault) SelfAccount() uuid.UUID       { return v.self }
func (v *Vault) Scaler() vmath.Scaler         { return v.scaler }
func (v *Vault) EpochRecords() []epoch.Record { return v.epochs.Records() }

// FeeConfig returns the current management and performance rates.
func (v *Vault) FeeConfig() (int64, int64) {
	return v.mgmtFeeWad, v.perfFeeWad
}

// PositionsOf lists the caller's outstanding queued requests in ticket
// issue order.
func (v *Vault) PositionsOf(user uuid.UUID) []TicketPosition {
	ids := v.tickets.Enumerate(user)
	out := make([]TicketPosition, 0, len(ids))
	for _, id := range ids {
		pos, ok := v.positions[id]
		if !ok {
			continue
		}
		out = append(out, TicketPosition{TicketID: id, Position: pos})
	}
	return out
}

// TicketPosition pairs a live ticket with its queued request.
type TicketPosition struct {
	TicketID uint64   `json:"ticket_id"`
	Position Position `json:"position"`
}
