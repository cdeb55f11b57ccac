package event

import (
	"time"
)

// EventType discriminator for the vault's processed operations
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositQueued
	EventTypeWithdrawQueued
	EventTypeTicketsClaimed
	EventTypeEpochContributed
	EventTypeFeesUpdated
)

// Envelope wraps every processed operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Acting user (nil for operator-global operations)
	UserID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded operation outcome
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous envelope's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all inbound operations must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// UserID returns the acting user (nil for operator-global commands)
	UserID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeDepositQueued:
		return "DepositQueued"
	case EventTypeWithdrawQueued:
		return "WithdrawQueued"
	case EventTypeTicketsClaimed:
		return "TicketsClaimed"
	case EventTypeEpochContributed:
		return "EpochContributed"
	case EventTypeFeesUpdated:
		return "FeesUpdated"
	default:
		return "Unknown"
	}
}
