package vault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	vmath "VaultLedger/internal/math"
)

// EpochResult reports one completed epoch transition.
type EpochResult struct {
	Epoch          int64 `json:"epoch"`
	Nav            int64 `json:"nav"`
	PriceWad       int64 `json:"price_wad"`
	Timestamp      int64 `json:"timestamp"`
	ElapsedSeconds int64 `json:"elapsed_seconds"`
	Delta          int64 `json:"delta"` // assets pulled from (+) or pushed to (-) the operator
	MgmtShares     int64 `json:"mgmt_shares"`
	PerfShares     int64 `json:"perf_shares"`
	HighWaterWad   int64 `json:"high_water_wad"`
	ReservedAssets int64 `json:"reserved_assets"` // added to the withdraw reserve
	BurnedShares   int64 `json:"burned_shares"`   // escrowed withdrawal shares retired
	PerfFeeClamped bool  `json:"perf_fee_clamped"`
	SupplyAfter    int64 `json:"supply_after"`
}

// Preview is the read-only simulation of ContributeEpoch.
type Preview struct {
	PriceWad       int64           `json:"price_wad"`
	Delta          int64           `json:"delta"`
	HighWaterWad   int64           `json:"high_water_wad"`
	Fees           vmath.FeeResult `json:"fees"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
}

// ContributeEpoch finalizes the next epoch from a NAV report. Operator
// only. All fallible work (fee math, reconciliation, the operator asset
// transfer) happens before any state mutation, so a rejected report
// leaves the vault at its last-good epoch, retryable with a corrected NAV.
func (v *Vault) ContributeEpoch(caller uuid.UUID, nav, asOf int64) (*EpochResult, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	if caller != v.operator {
		return nil, ErrNotOperator
	}

	fees, delta, elapsed, err := v.simulate(nav, asOf)
	if err != nil {
		return nil, err
	}

	// Escrow sanity before anything irreversible: the burn in the commit
	// phase must not be able to fail.
	if v.pendingWithdrawShares > 0 && v.shares.BalanceOf(v.self) < v.pendingWithdrawShares {
		return nil, fmt.Errorf("vault: escrow holds %d shares, %d pending", v.shares.BalanceOf(v.self), v.pendingWithdrawShares)
	}

	// Last fallible step: settle the cash delta with the operator.
	if delta > 0 {
		if err := v.bank.TransferIn(v.operator, delta); err != nil {
			return nil, fmt.Errorf("vault: operator contribution of %d: %w", delta, err)
		}
	} else if delta < 0 {
		if err := v.bank.TransferOut(v.operator, -delta); err != nil {
			return nil, fmt.Errorf("vault: operator surplus of %d: %w", -delta, err)
		}
	}

	// Commit phase: nothing below may fail under the invariants checked
	// above.
	feeShares := fees.MgmtShares + fees.PerfShares
	if feeShares > 0 {
		if err := v.shares.Mint(v.operator, feeShares); err != nil {
			return nil, fmt.Errorf("vault: fee mint: %w", err)
		}
	}

	epochNum, err := v.epochs.Append(fees.PriceAfter, asOf)
	if err != nil {
		return nil, fmt.Errorf("vault: finalize epoch: %w", err)
	}
	v.highWaterWad = fees.NewHighWaterMark

	// Every pending withdrawal targeted this epoch, so all of them are
	// priced now: realize their value into the reserve and retire the
	// escrowed shares.
	var reserved, burned int64
	if v.pendingWithdrawShares > 0 {
		norm, err := vmath.WadMul(v.pendingWithdrawShares, fees.PriceAfter)
		if err != nil {
			return nil, fmt.Errorf("vault: reserve withdrawals: %w", err)
		}
		reserved = v.scaler.Denormalize(norm)
		v.withdrawReserve += reserved

		burned = v.pendingWithdrawShares
		if err := v.shares.Burn(v.self, burned); err != nil {
			return nil, fmt.Errorf("vault: retire escrowed shares: %w", err)
		}
		v.pendingWithdrawShares = 0
	}

	res := &EpochResult{
		Epoch:          epochNum,
		Nav:            nav,
		PriceWad:       fees.PriceAfter,
		Timestamp:      asOf,
		ElapsedSeconds: elapsed,
		Delta:          delta,
		MgmtShares:     fees.MgmtShares,
		PerfShares:     fees.PerfShares,
		HighWaterWad:   v.highWaterWad,
		ReservedAssets: reserved,
		BurnedShares:   burned,
		PerfFeeClamped: fees.PerfClamped,
		SupplyAfter:    v.shares.TotalSupply(),
	}
	v.log.Info().Int64("epoch", epochNum).Int64("price_wad", fees.PriceAfter).
		Int64("delta", delta).Int64("mgmt_shares", fees.MgmtShares).
		Int64("perf_shares", fees.PerfShares).Int64("high_water_wad", v.highWaterWad).
		Msg("epoch contributed")
	return res, nil
}

// PreviewEpoch runs the transition math without mutating anything, so the
// operator can inspect the cash delta a NAV report would require.
func (v *Vault) PreviewEpoch(nav, asOf int64) (*Preview, error) {
	fees, delta, elapsed, err := v.simulate(nav, asOf)
	if err != nil {
		return nil, err
	}
	return &Preview{
		PriceWad:       fees.PriceAfter,
		Delta:          delta,
		HighWaterWad:   fees.NewHighWaterMark,
		Fees:           fees,
		ElapsedSeconds: elapsed,
	}, nil
}

// simulate runs the pure half of a transition: fee accrual and cashflow
// reconciliation against current state.
func (v *Vault) simulate(nav, asOf int64) (vmath.FeeResult, int64, int64, error) {
	if nav < 0 {
		return vmath.FeeResult{}, 0, 0, ErrInvalidNav
	}
	navNorm, err := v.scaler.Normalize(nav)
	if err != nil {
		return vmath.FeeResult{}, 0, 0, fmt.Errorf("%w: %v", ErrInvalidNav, err)
	}

	lastTs := v.epochs.TimestampAt(v.epochs.Current())
	elapsed := asOf - lastTs
	if elapsed < 0 {
		return vmath.FeeResult{}, 0, 0, ErrStaleTimestamp
	}
	if lastTs == 0 {
		elapsed = 0 // no prior timestamp, management fee cannot accrue
	}

	fees, err := vmath.ComputeFees(vmath.FeeInput{
		NavNorm:         navNorm,
		Supply:          v.shares.TotalSupply(),
		HighWaterMark:   v.highWaterWad,
		MgmtFeeWad:      v.mgmtFeeWad,
		PerfFeeWad:      v.perfFeeWad,
		ElapsedSeconds:  elapsed,
		SkipClampedMint: v.skipClampedMint,
	})
	if err != nil {
		if errors.Is(err, vmath.ErrZeroPrice) || errors.Is(err, vmath.ErrNegativeNav) {
			return vmath.FeeResult{}, 0, 0, fmt.Errorf("%w: %v", ErrInvalidNav, err)
		}
		return vmath.FeeResult{}, 0, 0, fmt.Errorf("vault: fee accrual: %w", err)
	}

	delta, err := vmath.Reconcile(v.pendingWithdrawShares, fees.PriceAfter, v.bank.Balance(), v.withdrawReserve, v.scaler)
	if err != nil {
		return vmath.FeeResult{}, 0, 0, fmt.Errorf("vault: reconcile: %w", err)
	}
	return fees, delta, elapsed, nil
}
