// Package projection maintains the queryable Postgres mirror of the
// vault: ticket lifecycle, epoch history, and the aggregate pool state.
// Projections are eventually consistent and rebuildable from the event
// log, so the fan-out channel may drop under pressure.
package projection

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"VaultLedger/internal/vault"
)

// Output mirrors the fields projection workers need from core.Output.
// The orchestrator bridges between the two to keep this package free of
// a core dependency.
type Output struct {
	Sequence   int64
	EventType  string
	UserID     *string
	Payload    []byte
	StateDelta []byte
	Timestamp  time.Time
}

// PoolState is the decoded form of the engine's canonical state digest.
type PoolState struct {
	Epoch                 int64
	PriceWad              int64
	HighWaterWad          int64
	PendingDeposits       int64
	PendingWithdrawShares int64
	WithdrawReserve       int64
	ShareSupply           int64
	PoolBalance           int64
	MgmtFeeWad            int64
	PerfFeeWad            int64
}

const poolStateSize = 10 * 8

// DecodePoolState parses the engine's state digest. Field order matches
// the digest layout in core.
func DecodePoolState(delta []byte) (PoolState, error) {
	if len(delta) != poolStateSize {
		return PoolState{}, fmt.Errorf("state delta is %d bytes, want %d", len(delta), poolStateSize)
	}
	read := func(i int) int64 {
		return int64(binary.LittleEndian.Uint64(delta[i*8 : i*8+8]))
	}
	return PoolState{
		Epoch:                 read(0),
		PriceWad:              read(1),
		HighWaterWad:          read(2),
		PendingDeposits:       read(3),
		PendingWithdrawShares: read(4),
		WithdrawReserve:       read(5),
		ShareSupply:           read(6),
		PoolBalance:           read(7),
		MgmtFeeWad:            read(8),
		PerfFeeWad:            read(9),
	}, nil
}

// Worker updates projection tables from processed operations.
type Worker struct {
	db        *sql.DB
	inputChan <-chan Output
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan Output, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the projection worker loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.Apply(ctx, output); err != nil {
				// Continue — projections are eventually consistent and
				// rebuildable from the event log.
				w.log.Warn().Err(err).Int64("sequence", output.Sequence).
					Msg("projection update failed")
			}
			w.lastSeq = output.Sequence
		}
	}
}

// Apply projects one processed operation into the mirror tables.
func (w *Worker) Apply(ctx context.Context, output Output) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	switch output.EventType {
	case "DepositQueued", "WithdrawQueued":
		if err := w.applyQueue(ctx, tx, output); err != nil {
			return fmt.Errorf("queue projection: %w", err)
		}
	case "TicketsClaimed":
		var res vault.ActionResult
		if err := json.Unmarshal(output.Payload, &res); err != nil {
			return fmt.Errorf("decode claim payload: %w", err)
		}
		if err := w.settleTickets(ctx, tx, res.Settled, output.Sequence); err != nil {
			return fmt.Errorf("claim projection: %w", err)
		}
	case "EpochContributed":
		if err := w.applyEpoch(ctx, tx, output); err != nil {
			return fmt.Errorf("epoch projection: %w", err)
		}
	case "FeesUpdated":
		// Fee rates land in pool_state below.
	}

	if err := w.updatePoolState(ctx, tx, output); err != nil {
		return fmt.Errorf("pool state projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vault_projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) applyQueue(ctx context.Context, tx *sql.Tx, output Output) error {
	var res vault.ActionResult
	if err := json.Unmarshal(output.Payload, &res); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	if err := w.settleTickets(ctx, tx, res.Settled, output.Sequence); err != nil {
		return err
	}

	if res.TicketID == 0 || output.UserID == nil {
		return nil
	}

	action := "deposit"
	if output.EventType == "WithdrawQueued" {
		action = "withdraw"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vault_projections.tickets
			(ticket_id, owner_id, action, amount, target_epoch, status, queued_sequence)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6)
		ON CONFLICT (ticket_id) DO NOTHING
	`, int64(res.TicketID), *output.UserID, action, res.Amount, res.TargetEpoch, output.Sequence)
	return err
}

func (w *Worker) settleTickets(ctx context.Context, tx *sql.Tx, settled []vault.SettledTicket, seq int64) error {
	for _, s := range settled {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vault_projections.tickets
				(ticket_id, owner_id, action, amount, target_epoch, status,
				 settled_price_wad, shares_out, assets_out, queued_sequence, settled_sequence)
			VALUES ($1, $2, $3, $4, $5, 'settled', $6, $7, $8, $9, $9)
			ON CONFLICT (ticket_id) DO UPDATE SET
				status = 'settled',
				amount = $4,
				settled_price_wad = $6,
				shares_out = $7,
				assets_out = $8,
				settled_sequence = $9
		`, int64(s.TicketID), s.Owner, s.Action.String(), s.Amount, s.Epoch,
			s.PriceWad, s.SharesOut, s.AssetsOut, seq)
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) applyEpoch(ctx context.Context, tx *sql.Tx, output Output) error {
	var res vault.EpochResult
	if err := json.Unmarshal(output.Payload, &res); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO vault_projections.epochs
			(epoch, price_wad, timestamp, delta, mgmt_shares, perf_shares,
			 high_water_wad, reserved_assets, burned_shares, supply_after, sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (epoch) DO NOTHING
	`, res.Epoch, res.PriceWad, res.Timestamp, res.Delta, res.MgmtShares,
		res.PerfShares, res.HighWaterWad, res.ReservedAssets, res.BurnedShares,
		res.SupplyAfter, output.Sequence)
	return err
}

func (w *Worker) updatePoolState(ctx context.Context, tx *sql.Tx, output Output) error {
	st, err := DecodePoolState(output.StateDelta)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vault_projections.pool_state
			(id, epoch, price_wad, high_water_wad, pending_deposits,
			 pending_withdraw_shares, withdraw_reserve, share_supply,
			 pool_balance, mgmt_fee_wad, perf_fee_wad, sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			epoch = $1, price_wad = $2, high_water_wad = $3,
			pending_deposits = $4, pending_withdraw_shares = $5,
			withdraw_reserve = $6, share_supply = $7, pool_balance = $8,
			mgmt_fee_wad = $9, perf_fee_wad = $10, sequence = $11
		WHERE vault_projections.pool_state.sequence < $11
	`, st.Epoch, st.PriceWad, st.HighWaterWad, st.PendingDeposits,
		st.PendingWithdrawShares, st.WithdrawReserve, st.ShareSupply,
		st.PoolBalance, st.MgmtFeeWad, st.PerfFeeWad, output.Sequence)
	return err
}
