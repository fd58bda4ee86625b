package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error)
}

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds the Postgres-backed repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	oldValue, err := json.Marshal(history.OldValue)
	if err != nil {
		return err
	}
	newValue, err := json.Marshal(history.NewValue)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO ticket_history (id, ticket_id, changed_by_role, change_type, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7)`
	_, err = r.pool.Exec(ctx, query,
		history.ID,
		history.TicketID,
		history.ChangedByRole.String(),
		history.ChangeType,
		string(oldValue),
		string(newValue),
		history.CreatedAt,
	)
	return err
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, changed_by_role, change_type, old_value, new_value, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.TicketHistory{}
	for rows.Next() {
		var (
			history  domain.TicketHistory
			role     string
			oldValue []byte
			newValue []byte
		)
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&role,
			&history.ChangeType,
			&oldValue,
			&newValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		if history.ChangedByRole, err = domain.ParseRole(role); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(oldValue, &history.OldValue); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(newValue, &history.NewValue); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
