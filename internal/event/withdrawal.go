package event

import "github.com/google/uuid"

// WithdrawRequest queues shares for redemption at the next finalized
// price.
type WithdrawRequest struct {
	CommandID uuid.UUID
	User      uuid.UUID
	Shares    int64 // share units, 18-decimal scale
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (w *WithdrawRequest) IdempotencyKey() string {
	return w.CommandID.String()
}

func (w *WithdrawRequest) EventType() EventType {
	return EventTypeWithdrawQueued
}

func (w *WithdrawRequest) UserID() *string {
	s := w.User.String()
	return &s
}

func (w *WithdrawRequest) SourceSequence() int64 {
	return w.Sequence
}
