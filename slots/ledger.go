// Package slots implements the node's admission ledger: a fixed pool of
// processing slots handed out as tickets. The ledger is the single
// authority on capacity; the outstanding ticket count can never exceed
// the configured limit, no matter how many goroutines race Acquire.
package slots

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCapacityExceeded is returned by Acquire when all slots are in use.
var ErrCapacityExceeded = errors.New("slot capacity exceeded")

// Ticket represents permission to occupy one unit of processing capacity.
// Tickets are owned exclusively by the ledger and tracked independent of
// task object lifetime, so a ticket left over by a crashed task can still
// be released.
type Ticket struct {
	ID          string    `json:"id"`
	IssuedAt    time.Time `json:"issued_at"`
	OwnerTaskID string    `json:"owner_task_id"`
}

// Journal receives ticket lifecycle notifications, typically for
// persistence. Calls happen outside the ledger's critical section.
type Journal interface {
	TicketIssued(t Ticket)
	TicketReleased(ticketID string)
}

// Ledger issues and releases slot tickets against a fixed limit.
type Ledger struct {
	mu      sync.Mutex
	limit   int
	issued  map[string]Ticket
	journal Journal
}

// NewLedger creates a ledger with the given slot limit.
func NewLedger(limit int, journal Journal) *Ledger {
	return &Ledger{
		limit:   limit,
		issued:  make(map[string]Ticket),
		journal: journal,
	}
}

// Acquire issues a ticket for the given task, or fails with
// ErrCapacityExceeded. The check and the issue happen under one lock,
// never as a two-phase check-then-act.
func (l *Ledger) Acquire(ownerTaskID string) (Ticket, error) {
	l.mu.Lock()
	if len(l.issued) >= l.limit {
		l.mu.Unlock()
		return Ticket{}, ErrCapacityExceeded
	}
	t := Ticket{
		ID:          uuid.New().String(),
		IssuedAt:    time.Now().UTC(),
		OwnerTaskID: ownerTaskID,
	}
	l.issued[t.ID] = t
	l.mu.Unlock()

	if l.journal != nil {
		l.journal.TicketIssued(t)
	}
	return t, nil
}

// Release returns a ticket to the pool. Idempotent: releasing an unknown
// or already-released ticket is a no-op. Never blocks on anything but the
// ledger's own mutex.
func (l *Ledger) Release(ticketID string) {
	l.mu.Lock()
	_, ok := l.issued[ticketID]
	if ok {
		delete(l.issued, ticketID)
	}
	l.mu.Unlock()

	if ok && l.journal != nil {
		l.journal.TicketReleased(ticketID)
	}
}

// InUse returns the number of outstanding tickets.
func (l *Ledger) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.issued)
}

// Limit returns the configured slot limit.
func (l *Ledger) Limit() int {
	return l.limit
}

// Outstanding returns a copy of all outstanding tickets, in no particular
// order. Served on the admin ticket listing.
func (l *Ledger) Outstanding() []Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Ticket, 0, len(l.issued))
	for _, t := range l.issued {
		out = append(out, t)
	}
	return out
}

// ExpiredBefore returns tickets issued before the cutoff. Housekeeping uses
// this as a backstop to reclaim tickets that outlived any possible task.
func (l *Ledger) ExpiredBefore(cutoff time.Time) []Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Ticket
	for _, t := range l.issued {
		if t.IssuedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
