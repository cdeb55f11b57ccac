package event

import "github.com/google/uuid"

// ClaimRequest settles the caller's matured tickets without queuing
// anything new.
type ClaimRequest struct {
	CommandID uuid.UUID
	User      uuid.UUID
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (c *ClaimRequest) IdempotencyKey() string {
	return c.CommandID.String()
}

func (c *ClaimRequest) EventType() EventType {
	return EventTypeTicketsClaimed
}

func (c *ClaimRequest) UserID() *string {
	s := c.User.String()
	return &s
}

func (c *ClaimRequest) SourceSequence() int64 {
	return c.Sequence
}
