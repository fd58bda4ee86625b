package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/support-desk/internal/domain"
)

const historyCollection = "support_ticket_history"

type historyDocument struct {
	ID            string         `bson:"_id"`
	TicketID      string         `bson:"ticket_id"`
	ChangedByRole string         `bson:"changed_by_role"`
	ChangeType    string         `bson:"change_type"`
	OldValue      map[string]any `bson:"old_value"`
	NewValue      map[string]any `bson:"new_value"`
	CreatedAt     time.Time      `bson:"created_at"`
}

type mongoTicketHistoryRepository struct {
	col *mongo.Collection
}

// NewMongoTicketHistoryRepository builds the Mongo-backed repository.
func NewMongoTicketHistoryRepository(db *mongo.Database) TicketHistoryRepository {
	return &mongoTicketHistoryRepository{col: db.Collection(historyCollection)}
}

func (r *mongoTicketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	_, err := r.col.InsertOne(ctx, historyDocument{
		ID:            history.ID,
		TicketID:      history.TicketID,
		ChangedByRole: history.ChangedByRole.String(),
		ChangeType:    string(history.ChangeType),
		OldValue:      history.OldValue,
		NewValue:      history.NewValue,
		CreatedAt:     history.CreatedAt,
	})
	return err
}

func (r *mongoTicketHistoryRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.col.Find(ctx, bson.M{"ticket_id": ticketID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []historyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	result := make([]domain.TicketHistory, 0, len(docs))
	for _, doc := range docs {
		role, err := domain.ParseRole(doc.ChangedByRole)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.TicketHistory{
			ID:            doc.ID,
			TicketID:      doc.TicketID,
			ChangedByRole: role,
			ChangeType:    domain.TicketChangeType(doc.ChangeType),
			OldValue:      doc.OldValue,
			NewValue:      doc.NewValue,
			CreatedAt:     doc.CreatedAt.UTC(),
		})
	}
	return result, nil
}
