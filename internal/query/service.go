// Package query serves read-only API access from the projection tables.
// Every response carries as_of_sequence so callers can reason about
// staleness against the write side.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetPoolState returns the aggregate pool mirror.
func (s *Service) GetPoolState(ctx context.Context) (*PoolStateResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var r PoolStateResponse
	r.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT epoch, price_wad, high_water_wad, pending_deposits,
		       pending_withdraw_shares, withdraw_reserve, share_supply,
		       pool_balance, mgmt_fee_wad, perf_fee_wad
		FROM vault_projections.pool_state
		WHERE id = 1
	`).Scan(&r.Epoch, &r.PriceWad, &r.HighWaterWad, &r.PendingDeposits,
		&r.PendingWithdrawShares, &r.WithdrawReserve, &r.ShareSupply,
		&r.PoolBalance, &r.MgmtFeeWad, &r.PerfFeeWad)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pool state not yet projected")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetEpoch returns one finalized epoch.
func (s *Service) GetEpoch(ctx context.Context, epoch int64) (*EpochResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var r EpochResponse
	r.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT epoch, price_wad, timestamp, delta, mgmt_shares, perf_shares,
		       high_water_wad, reserved_assets, burned_shares, supply_after
		FROM vault_projections.epochs
		WHERE epoch = $1
	`, epoch).Scan(&r.Epoch, &r.PriceWad, &r.Timestamp, &r.Delta,
		&r.MgmtShares, &r.PerfShares, &r.HighWaterWad, &r.ReservedAssets,
		&r.BurnedShares, &r.SupplyAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListEpochs returns finalized epochs newest first with cursor-based
// pagination.
func (s *Service) ListEpochs(ctx context.Context, limit int, beforeEpoch *int64) ([]EpochResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT epoch, price_wad, timestamp, delta, mgmt_shares, perf_shares,
		       high_water_wad, reserved_assets, burned_shares, supply_after
		FROM vault_projections.epochs
	`
	args := []interface{}{}
	argIdx := 1

	if beforeEpoch != nil {
		query += fmt.Sprintf(" WHERE epoch < $%d", argIdx)
		args = append(args, *beforeEpoch)
		argIdx++
	}

	query += " ORDER BY epoch DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []EpochResponse
	for rows.Next() {
		var r EpochResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.Epoch, &r.PriceWad, &r.Timestamp, &r.Delta,
			&r.MgmtShares, &r.PerfShares, &r.HighWaterWad, &r.ReservedAssets,
			&r.BurnedShares, &r.SupplyAfter); err != nil {
			return nil, err
		}
		epochs = append(epochs, r)
	}
	return epochs, rows.Err()
}

// GetTickets returns a user's tickets, optionally filtered by status
// ("queued" or "settled"), newest first.
func (s *Service) GetTickets(ctx context.Context, owner uuid.UUID, status *string, limit int) ([]TicketResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ticket_id, owner_id, action, amount, target_epoch, status,
		       settled_price_wad, shares_out, assets_out
		FROM vault_projections.tickets
		WHERE owner_id = $1
	`
	args := []interface{}{owner}
	argIdx := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}

	query += " ORDER BY ticket_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []TicketResponse
	for rows.Next() {
		var r TicketResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.TicketID, &r.Owner, &r.Action, &r.Amount,
			&r.TargetEpoch, &r.Status, &r.SettledPriceWad, &r.SharesOut,
			&r.AssetsOut); err != nil {
			return nil, err
		}
		tickets = append(tickets, r)
	}
	return tickets, rows.Err()
}

// GetEventHistory returns event-log rows newest first, optionally
// scoped to one user, with cursor-based pagination.
func (s *Service) GetEventHistory(ctx context.Context, userID *uuid.UUID, limit int, beforeSequence *int64) ([]EventHistoryEntry, error) {
	query := `
		SELECT sequence, event_type, user_id, timestamp, payload
		FROM vault_log.events
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if userID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, *userID)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EventHistoryEntry
	for rows.Next() {
		var e EventHistoryEntry
		var ts time.Time
		if err := rows.Scan(&e.Sequence, &e.EventType, &e.UserID, &ts, &e.Payload); err != nil {
			return nil, err
		}
		e.Timestamp = ts.Unix()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and the
// pool's counter invariants in the projections.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Hash chain continuity: each envelope's prev_hash must equal the
	// previous envelope's state_hash.
	rows, err := s.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM vault_log.events e1
		JOIN vault_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pending deposit counter vs the sum of queued deposit tickets.
	var drift sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT ps.pending_deposits - COALESCE(SUM(t.amount), 0)
		FROM vault_projections.pool_state ps
		LEFT JOIN vault_projections.tickets t
			ON t.action = 'deposit' AND t.status = 'queued'
		GROUP BY ps.pending_deposits
	`).Scan(&drift)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if drift.Valid && drift.Int64 != 0 {
		report.PendingDepositDrift = &drift.Int64
	}

	// The withdraw reserve must be covered by the pool balance.
	var underfunded sql.NullBool
	err = s.db.QueryRowContext(ctx, `
		SELECT pool_balance < withdraw_reserve
		FROM vault_projections.pool_state WHERE id = 1
	`).Scan(&underfunded)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	report.ReserveUnderfunded = underfunded.Valid && underfunded.Bool

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		report.PendingDepositDrift == nil && !report.ReserveUnderfunded
	return report, nil
}

// --- helpers ---

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM vault_projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
