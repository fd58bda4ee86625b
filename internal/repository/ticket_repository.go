package repository

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

var (
	// ErrTicketNotFound is returned when no ticket has the requested id.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrRevisionConflict is returned when a guarded update lost a race.
	ErrRevisionConflict = errors.New("ticket revision conflict")
	// ErrDuplicateTicket is returned by Create when the id or external key
	// is already taken.
	ErrDuplicateTicket = errors.New("ticket id or external key already exists")
)

// NullableString sets an optional string field, clearing it when Value is nil.
type NullableString struct {
	Value *string
}

// NullableTime sets an optional timestamp field, clearing it when Value is nil.
type NullableTime struct {
	Value *time.Time
}

// TicketUpdate is a partial update applied to a single ticket document.
// Nil fields are left untouched. UpdatedAt is always written.
type TicketUpdate struct {
	Status        *domain.TicketStatus
	Priority      *domain.TicketPriority
	AssignedTo    *NullableString
	ClosedAt      *NullableTime
	AppendMessage *domain.Message
	UpdatedAt     time.Time
}

// ListOptions controls account listings.
type ListOptions struct {
	OldestFirst bool
	Limit       int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// Update applies update only if the stored revision equals expectedRevision,
	// increments the revision and returns the resulting ticket.
	Update(ctx context.Context, id string, expectedRevision int64, update TicketUpdate) (*domain.Ticket, error)
	// ListByAccount yields tickets where accountID is the reporter or the reported
	// user. Each iteration runs a fresh query.
	ListByAccount(ctx context.Context, accountID string, opts ListOptions) iter.Seq2[domain.Ticket, error]
	Ping(ctx context.Context) error
}

// applyUpdate mutates ticket in place the same way the document stores do.
func applyUpdate(ticket *domain.Ticket, update TicketUpdate) {
	if update.Status != nil {
		ticket.Status = *update.Status
	}
	if update.Priority != nil {
		ticket.Priority = *update.Priority
	}
	if update.AssignedTo != nil {
		ticket.AssignedTo = update.AssignedTo.Value
	}
	if update.ClosedAt != nil {
		ticket.ClosedAt = update.ClosedAt.Value
	}
	if update.AppendMessage != nil {
		ticket.Messages = append(ticket.Messages, *update.AppendMessage)
	}
	ticket.UpdatedAt = update.UpdatedAt
	ticket.Revision++
}
