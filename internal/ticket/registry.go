// Package ticket issues unique, enumerable claim tickets per owner.
package ticket

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnknownTicket = errors.New("ticket: unknown ticket id")
)

// Registry is the claim-ticket capability set the vault consumes.
// Enumeration per owner is stable in issue order while no ticket of that
// owner is revoked mid-enumeration.
type Registry interface {
	Issue(owner uuid.UUID) uint64
	Revoke(id uint64) error
	CountOf(owner uuid.UUID) int
	At(owner uuid.UUID, index int) (uint64, error)
	OwnerOf(id uint64) (uuid.UUID, bool)
	Enumerate(owner uuid.UUID) []uint64
}

type node struct {
	owner      uuid.UUID
	prev, next uint64 // 0 terminates
}

// Arena is the in-memory Registry. Live tickets form a per-owner doubly
// linked list through the arena, so issue and revoke are O(1) and a drain
// pass sees issue order.
type Arena struct {
	nextID  uint64
	tickets map[uint64]*node
	head    map[uuid.UUID]uint64
	tail    map[uuid.UUID]uint64
	count   map[uuid.UUID]int
}

func NewArena() *Arena {
	return &Arena{
		nextID:  1,
		tickets: make(map[uint64]*node),
		head:    make(map[uuid.UUID]uint64),
		tail:    make(map[uuid.UUID]uint64),
		count:   make(map[uuid.UUID]int),
	}
}

func (a *Arena) Issue(owner uuid.UUID) uint64 {
	id := a.nextID
	a.nextID++

	n := &node{owner: owner, prev: a.tail[owner]}
	a.tickets[id] = n
	if n.prev != 0 {
		a.tickets[n.prev].next = id
	} else {
		a.head[owner] = id
	}
	a.tail[owner] = id
	a.count[owner]++
	return id
}

func (a *Arena) Revoke(id uint64) error {
	n, ok := a.tickets[id]
	if !ok {
		return ErrUnknownTicket
	}
	if n.prev != 0 {
		a.tickets[n.prev].next = n.next
	} else {
		a.head[n.owner] = n.next
	}
	if n.next != 0 {
		a.tickets[n.next].prev = n.prev
	} else {
		a.tail[n.owner] = n.prev
	}
	a.count[n.owner]--
	delete(a.tickets, id)
	return nil
}

func (a *Arena) CountOf(owner uuid.UUID) int {
	return a.count[owner]
}

func (a *Arena) At(owner uuid.UUID, index int) (uint64, error) {
	if index < 0 || index >= a.count[owner] {
		return 0, ErrUnknownTicket
	}
	id := a.head[owner]
	for i := 0; i < index; i++ {
		id = a.tickets[id].next
	}
	return id, nil
}

func (a *Arena) OwnerOf(id uint64) (uuid.UUID, bool) {
	n, ok := a.tickets[id]
	if !ok {
		return uuid.UUID{}, false
	}
	return n.owner, true
}

// Restore re-issues a ticket under its original ID during snapshot
// recovery. Calls must come in ascending ID order.
func (a *Arena) Restore(id uint64, owner uuid.UUID) error {
	if id < a.nextID {
		return errors.New("ticket: restore out of order")
	}
	a.nextID = id
	got := a.Issue(owner)
	if got != id {
		return errors.New("ticket: restore id mismatch")
	}
	return nil
}

// Enumerate snapshots the owner's live ticket IDs in issue order. The
// returned slice stays valid across revokes, which is what the vault's
// drain pass relies on.
func (a *Arena) Enumerate(owner uuid.UUID) []uint64 {
	ids := make([]uint64, 0, a.count[owner])
	for id := a.head[owner]; id != 0; id = a.tickets[id].next {
		ids = append(ids, id)
	}
	return ids
}
