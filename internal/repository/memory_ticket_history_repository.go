package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/support-desk/internal/domain"
)

type memoryTicketHistoryRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.TicketHistory
}

// NewMemoryTicketHistoryRepository returns a process-local audit store.
func NewMemoryTicketHistoryRepository() TicketHistoryRepository {
	return &memoryTicketHistoryRepository{entries: make(map[string][]domain.TicketHistory)}
}

func (r *memoryTicketHistoryRepository) Create(_ context.Context, history *domain.TicketHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[history.TicketID] = append(r.entries[history.TicketID], *history)
	return nil
}

func (r *memoryTicketHistoryRepository) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TicketHistory{}, r.entries[ticketID]...), nil
}
