package event

import "github.com/google/uuid"

// NavReport is the operator's once-per-epoch net asset value submission.
// AsOf is the report's own timestamp, used for management-fee accrual.
type NavReport struct {
	CommandID uuid.UUID
	Operator  uuid.UUID
	Nav       int64 // native asset units
	AsOf      int64 // unix seconds
	Sequence  int64
}

func (n *NavReport) IdempotencyKey() string {
	return n.CommandID.String()
}

func (n *NavReport) EventType() EventType {
	return EventTypeEpochContributed
}

func (n *NavReport) UserID() *string {
	return nil // global
}

func (n *NavReport) SourceSequence() int64 {
	return n.Sequence
}
