package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-desk/internal/domain"
)

// uniqueViolationCode is the SQLSTATE for unique_violation.
const uniqueViolationCode = "23505"

type postgresTicketRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresTicketRepository keeps each ticket as a JSONB document with the
// listing keys mirrored into columns.
func NewPostgresTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &postgresTicketRepository{pool: pool}
}

func (r *postgresTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	doc, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	const query = `
        INSERT INTO tickets (id, user_id, reported_user, revision, created_at, document)
        VALUES ($1,$2,$3,$4,$5,$6::jsonb)`
	_, err = r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.UserID,
		ticket.ReportedUser,
		ticket.Revision,
		ticket.CreatedAt,
		string(doc),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert ticket %s: %w", ticket.ID, ErrDuplicateTicket)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func (r *postgresTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT document FROM tickets WHERE id=$1`
	var raw []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return decodeTicket(raw)
}

func (r *postgresTicketRepository) Update(ctx context.Context, id string, expectedRevision int64, update TicketUpdate) (*domain.Ticket, error) {
	patch, appended, err := buildJSONPatch(expectedRevision, update)
	if err != nil {
		return nil, err
	}
	const query = `
        UPDATE tickets
        SET revision = revision + 1,
            document = jsonb_set(document || $3::jsonb, '{messages}',
                COALESCE(document->'messages', '[]'::jsonb) || $4::jsonb)
        WHERE id=$1 AND revision=$2
        RETURNING document`
	var raw []byte
	err = r.pool.QueryRow(ctx, query, id, expectedRevision, string(patch), string(appended)).Scan(&raw)
	if err == nil {
		return decodeTicket(raw)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check ticket existence: %w", err)
	}
	if !exists {
		return nil, ErrTicketNotFound
	}
	return nil, ErrRevisionConflict
}

func (r *postgresTicketRepository) ListByAccount(ctx context.Context, accountID string, opts ListOptions) iter.Seq2[domain.Ticket, error] {
	return func(yield func(domain.Ticket, error) bool) {
		rows, err := r.pool.Query(ctx, listByAccountQuery(opts), accountID)
		if err != nil {
			yield(domain.Ticket{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				yield(domain.Ticket{}, err)
				return
			}
			ticket, err := decodeTicket(raw)
			if err != nil {
				yield(domain.Ticket{}, err)
				return
			}
			if !yield(*ticket, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Ticket{}, err)
		}
	}
}

func (r *postgresTicketRepository) Ping(ctx context.Context) error {
	if r.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

func listByAccountQuery(opts ListOptions) string {
	direction := "DESC"
	if opts.OldestFirst {
		direction = "ASC"
	}
	query := fmt.Sprintf(`SELECT document FROM tickets
             WHERE user_id=$1 OR reported_user=$1
             ORDER BY created_at %s, id %s`, direction, direction)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	return query
}

// buildJSONPatch returns the object merged into the document and the array of
// messages appended to it (empty when nothing is appended).
func buildJSONPatch(expectedRevision int64, update TicketUpdate) ([]byte, []byte, error) {
	patch := map[string]any{
		"updated_at": update.UpdatedAt,
		"revision":   expectedRevision + 1,
	}
	if update.Status != nil {
		patch["status"] = *update.Status
	}
	if update.Priority != nil {
		patch["priority"] = *update.Priority
	}
	if update.AssignedTo != nil {
		patch["assigned_to"] = update.AssignedTo.Value
	}
	if update.ClosedAt != nil {
		patch["closed_at"] = update.ClosedAt.Value
	}

	appended := []domain.Message{}
	if update.AppendMessage != nil {
		appended = append(appended, *update.AppendMessage)
	}

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return nil, nil, fmt.Errorf("encode patch: %w", err)
	}
	appendedJSON, err := json.Marshal(appended)
	if err != nil {
		return nil, nil, fmt.Errorf("encode message: %w", err)
	}
	return patchJSON, appendedJSON, nil
}

func decodeTicket(raw []byte) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if ticket.Messages == nil {
		ticket.Messages = []domain.Message{}
	}
	return &ticket, nil
}
