package query

import (
	"encoding/json"

	"github.com/google/uuid"
)

// PoolStateResponse is the aggregate pool mirror for API queries.
type PoolStateResponse struct {
	Epoch                 int64 `json:"epoch"`
	PriceWad              int64 `json:"price_wad"`
	HighWaterWad          int64 `json:"high_water_wad"`
	PendingDeposits       int64 `json:"pending_deposits"`
	PendingWithdrawShares int64 `json:"pending_withdraw_shares"`
	WithdrawReserve       int64 `json:"withdraw_reserve"`
	ShareSupply           int64 `json:"share_supply"`
	PoolBalance           int64 `json:"pool_balance"`
	MgmtFeeWad            int64 `json:"mgmt_fee_wad"`
	PerfFeeWad            int64 `json:"perf_fee_wad"`
	AsOfSequence          int64 `json:"as_of_sequence"`
}

// EpochResponse is one finalized epoch for API queries.
type EpochResponse struct {
	Epoch          int64 `json:"epoch"`
	PriceWad       int64 `json:"price_wad"`
	Timestamp      int64 `json:"timestamp"`
	Delta          int64 `json:"delta"`
	MgmtShares     int64 `json:"mgmt_shares"`
	PerfShares     int64 `json:"perf_shares"`
	HighWaterWad   int64 `json:"high_water_wad"`
	ReservedAssets int64 `json:"reserved_assets"`
	BurnedShares   int64 `json:"burned_shares"`
	SupplyAfter    int64 `json:"supply_after"`
	AsOfSequence   int64 `json:"as_of_sequence"`
}

// TicketResponse is one queued or settled ticket for API queries.
type TicketResponse struct {
	TicketID        int64     `json:"ticket_id"`
	Owner           uuid.UUID `json:"owner"`
	Action          string    `json:"action"`
	Amount          int64     `json:"amount"`
	TargetEpoch     int64     `json:"target_epoch"`
	Status          string    `json:"status"`
	SettledPriceWad *int64    `json:"settled_price_wad,omitempty"`
	SharesOut       *int64    `json:"shares_out,omitempty"`
	AssetsOut       *int64    `json:"assets_out,omitempty"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// EventHistoryEntry is one event-log row for API queries.
type EventHistoryEntry struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	UserID    *string         `json:"user_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy           bool    `json:"is_healthy"`
	HashChainBreaks     []int64 `json:"hash_chain_breaks,omitempty"`
	PendingDepositDrift *int64  `json:"pending_deposit_drift,omitempty"`
	ReserveUnderfunded  bool    `json:"reserve_underfunded,omitempty"`
}
