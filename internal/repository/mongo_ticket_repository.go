package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/support-desk/internal/domain"
)

const ticketsCollection = "support_tickets"

type mongoTicketRepository struct {
	col *mongo.Collection
}

// NewMongoTicketRepository stores each ticket, messages included, as one document.
func NewMongoTicketRepository(db *mongo.Database) TicketRepository {
	return &mongoTicketRepository{col: db.Collection(ticketsCollection)}
}

// EnsureTicketIndexes creates the indexes used by account listings.
func EnsureTicketIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ticketsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "reported_user", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "external_key", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

func (r *mongoTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	_, err := r.col.InsertOne(ctx, toTicketDocument(ticket))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert ticket %s: %w", ticket.ID, ErrDuplicateTicket)
	}
	return err
}

func (r *mongoTicketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	var doc ticketDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return doc.toDomain()
}

func (r *mongoTicketRepository) Update(ctx context.Context, id string, expectedRevision int64, update TicketUpdate) (*domain.Ticket, error) {
	filter := bson.M{"_id": id, "revision": expectedRevision}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc ticketDocument
	err := r.col.FindOneAndUpdate(ctx, filter, buildMongoUpdate(update), opts).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	count, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("check ticket existence: %w", err)
	}
	if count == 0 {
		return nil, ErrTicketNotFound
	}
	return nil, ErrRevisionConflict
}

func (r *mongoTicketRepository) ListByAccount(ctx context.Context, accountID string, opts ListOptions) iter.Seq2[domain.Ticket, error] {
	return func(yield func(domain.Ticket, error) bool) {
		direction := -1
		if opts.OldestFirst {
			direction = 1
		}
		findOpts := options.Find().SetSort(bson.D{
			{Key: "created_at", Value: direction},
			{Key: "_id", Value: direction},
		})
		if opts.Limit > 0 {
			findOpts.SetLimit(int64(opts.Limit))
		}

		cursor, err := r.col.Find(ctx, accountFilter(accountID), findOpts)
		if err != nil {
			yield(domain.Ticket{}, err)
			return
		}
		defer cursor.Close(ctx) //nolint:errcheck

		for cursor.Next(ctx) {
			var doc ticketDocument
			if err := cursor.Decode(&doc); err != nil {
				yield(domain.Ticket{}, err)
				return
			}
			ticket, err := doc.toDomain()
			if err != nil {
				yield(domain.Ticket{}, err)
				return
			}
			if !yield(*ticket, nil) {
				return
			}
		}
		if err := cursor.Err(); err != nil {
			yield(domain.Ticket{}, err)
		}
	}
}

func (r *mongoTicketRepository) Ping(ctx context.Context) error {
	return r.col.Database().Client().Ping(ctx, nil)
}
