package event

import "github.com/google/uuid"

// DepositRequest queues assets for conversion at the next finalized price.
type DepositRequest struct {
	CommandID uuid.UUID
	User      uuid.UUID
	Amount    int64 // native asset units
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (d *DepositRequest) IdempotencyKey() string {
	return d.CommandID.String()
}

func (d *DepositRequest) EventType() EventType {
	return EventTypeDepositQueued
}

func (d *DepositRequest) UserID() *string {
	s := d.User.String()
	return &s
}

func (d *DepositRequest) SourceSequence() int64 {
	return d.Sequence
}
