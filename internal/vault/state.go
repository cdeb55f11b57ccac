package vault

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VaultLedger/internal/custody"
	"VaultLedger/internal/epoch"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/shares"
	"VaultLedger/internal/ticket"
)

// State is the vault's own snapshot: everything needed to rebuild the
// engine short of the collaborator books, which snapshot themselves.
type State struct {
	Epochs                []epoch.Record   `json:"epochs"`
	HighWaterWad          int64            `json:"high_water_wad"`
	MgmtFeeWad            int64            `json:"mgmt_fee_wad"`
	PerfFeeWad            int64            `json:"perf_fee_wad"`
	SkipClampedMint       bool             `json:"skip_clamped_mint"`
	AssetDecimals         uint8            `json:"asset_decimals"`
	Operator              uuid.UUID        `json:"operator"`
	Self                  uuid.UUID        `json:"self"`
	Positions             []TicketPosition `json:"positions"`
	PendingDeposits       int64            `json:"pending_deposits"`
	PendingWithdrawShares int64            `json:"pending_withdraw_shares"`
	WithdrawReserve       int64            `json:"withdraw_reserve"`
}

// State exports a deterministic snapshot; positions come out in ticket-ID
// order.
func (v *Vault) State() State {
	positions := make([]TicketPosition, 0, len(v.positions))
	for id, pos := range v.positions {
		positions = append(positions, TicketPosition{TicketID: id, Position: pos})
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].TicketID < positions[j].TicketID })

	return State{
		Epochs:                v.epochs.Records(),
		HighWaterWad:          v.highWaterWad,
		MgmtFeeWad:            v.mgmtFeeWad,
		PerfFeeWad:            v.perfFeeWad,
		SkipClampedMint:       v.skipClampedMint,
		AssetDecimals:         v.assetDecimals,
		Operator:              v.operator,
		Self:                  v.self,
		Positions:             positions,
		PendingDeposits:       v.pendingDeposits,
		PendingWithdrawShares: v.pendingWithdrawShares,
		WithdrawReserve:       v.withdrawReserve,
	}
}

// Restore rebuilds a vault from a snapshot. The ticket arena is re-seeded
// from the snapshot's positions; the share book and bank arrive already
// restored. Counter invariants are re-checked before the vault is handed
// back.
func Restore(st State, sh shares.Ledger, tk *ticket.Arena, bank custody.Custody, log zerolog.Logger) (*Vault, error) {
	if st.Operator == (uuid.UUID{}) {
		return nil, fmt.Errorf("vault: restore: operator missing")
	}
	scaler, err := vmath.NewScaler(st.AssetDecimals)
	if err != nil {
		return nil, fmt.Errorf("vault: restore: %w", err)
	}
	epochs, err := epoch.Restore(st.Epochs)
	if err != nil {
		return nil, fmt.Errorf("vault: restore: %w", err)
	}
	if err := validateFees(st.MgmtFeeWad, st.PerfFeeWad); err != nil {
		return nil, fmt.Errorf("vault: restore: %w", err)
	}

	positions := make(map[uint64]Position, len(st.Positions))
	var sumDeposits, sumWithdrawShares int64
	for _, tp := range st.Positions {
		if err := tk.Restore(tp.TicketID, tp.Position.Owner); err != nil {
			return nil, fmt.Errorf("vault: restore ticket %d: %w", tp.TicketID, err)
		}
		positions[tp.TicketID] = tp.Position
		if tp.Position.Action == ActionDeposit {
			sumDeposits += tp.Position.Amount
		} else if tp.Position.TargetEpoch > epochs.Current() {
			sumWithdrawShares += tp.Position.Amount
		}
	}
	if sumDeposits != st.PendingDeposits {
		return nil, fmt.Errorf("vault: restore: pending deposits %d != position sum %d", st.PendingDeposits, sumDeposits)
	}
	if sumWithdrawShares != st.PendingWithdrawShares {
		return nil, fmt.Errorf("vault: restore: pending withdraw shares %d != position sum %d", st.PendingWithdrawShares, sumWithdrawShares)
	}

	return &Vault{
		log:                   log,
		scaler:                scaler,
		assetDecimals:         st.AssetDecimals,
		operator:              st.Operator,
		self:                  st.Self,
		epochs:                epochs,
		shares:                sh,
		tickets:               tk,
		bank:                  bank,
		mgmtFeeWad:            st.MgmtFeeWad,
		perfFeeWad:            st.PerfFeeWad,
		skipClampedMint:       st.SkipClampedMint,
		highWaterWad:          st.HighWaterWad,
		positions:             positions,
		pendingDeposits:       st.PendingDeposits,
		pendingWithdrawShares: st.PendingWithdrawShares,
		withdrawReserve:       st.WithdrawReserve,
	}, nil
}
