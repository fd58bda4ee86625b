package repository

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/spec-kit/support-desk/internal/domain"
)

type memoryTicket struct {
	mu     sync.Mutex
	ticket *domain.Ticket
}

type memoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]*memoryTicket
	keys    map[string]string
}

// NewMemoryTicketRepository returns a process-local store. Writes to different
// tickets never contend on the same lock.
func NewMemoryTicketRepository() TicketRepository {
	return &memoryTicketRepository{
		tickets: make(map[string]*memoryTicket),
		keys:    make(map[string]string),
	}
}

func (r *memoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tickets[ticket.ID]; exists {
		return fmt.Errorf("ticket %s: %w", ticket.ID, ErrDuplicateTicket)
	}
	if _, exists := r.keys[ticket.ExternalKey]; exists {
		return fmt.Errorf("external key %s: %w", ticket.ExternalKey, ErrDuplicateTicket)
	}
	r.tickets[ticket.ID] = &memoryTicket{ticket: ticket.Clone()}
	r.keys[ticket.ExternalKey] = ticket.ID
	return nil
}

func (r *memoryTicketRepository) entry(id string) (*memoryTicket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tickets[id]
	return e, ok
}

func (r *memoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrTicketNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticket.Clone(), nil
}

func (r *memoryTicketRepository) Update(ctx context.Context, id string, expectedRevision int64, update TicketUpdate) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := r.entry(id)
	if !ok {
		return nil, ErrTicketNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticket.Revision != expectedRevision {
		return nil, ErrRevisionConflict
	}
	next := e.ticket.Clone()
	applyUpdate(next, update)
	e.ticket = next
	return next.Clone(), nil
}

func (r *memoryTicketRepository) ListByAccount(ctx context.Context, accountID string, opts ListOptions) iter.Seq2[domain.Ticket, error] {
	return func(yield func(domain.Ticket, error) bool) {
		r.mu.RLock()
		entries := make([]*memoryTicket, 0, len(r.tickets))
		for _, e := range r.tickets {
			entries = append(entries, e)
		}
		r.mu.RUnlock()

		matches := make([]*domain.Ticket, 0)
		for _, e := range entries {
			e.mu.Lock()
			if e.ticket.Involves(accountID) {
				matches = append(matches, e.ticket.Clone())
			}
			e.mu.Unlock()
		}
		sortTickets(matches, opts.OldestFirst)
		if opts.Limit > 0 && len(matches) > opts.Limit {
			matches = matches[:opts.Limit]
		}

		for _, ticket := range matches {
			if err := ctx.Err(); err != nil {
				yield(domain.Ticket{}, err)
				return
			}
			if !yield(*ticket, nil) {
				return
			}
		}
	}
}

func (r *memoryTicketRepository) Ping(context.Context) error {
	return nil
}

// sortTickets orders by creation time, breaking ties on id so repeated listings agree.
func sortTickets(tickets []*domain.Ticket, oldestFirst bool) {
	sort.Slice(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if oldestFirst {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}
