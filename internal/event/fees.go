package event

import "github.com/google/uuid"

// FeeUpdate changes the management/performance rates within policy
// bounds.
type FeeUpdate struct {
	CommandID  uuid.UUID
	Operator   uuid.UUID
	MgmtFeeWad int64
	PerfFeeWad int64
	Timestamp  int64 // unix seconds, versioned input
	Sequence   int64
}

func (f *FeeUpdate) IdempotencyKey() string {
	return f.CommandID.String()
}

func (f *FeeUpdate) EventType() EventType {
	return EventTypeFeesUpdated
}

func (f *FeeUpdate) UserID() *string {
	return nil // global
}

func (f *FeeUpdate) SourceSequence() int64 {
	return f.Sequence
}
