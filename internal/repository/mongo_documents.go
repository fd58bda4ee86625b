package repository

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/spec-kit/support-desk/internal/domain"
)

type ticketDocument struct {
	ID               string            `bson:"_id"`
	ExternalKey      string            `bson:"external_key"`
	UserID           string            `bson:"user_id"`
	Username         string            `bson:"username"`
	Type             string            `bson:"type"`
	Title            string            `bson:"title"`
	Description      string            `bson:"description"`
	Status           string            `bson:"status"`
	Priority         string            `bson:"priority"`
	AssignedTo       *string           `bson:"assigned_to"`
	ReportedUser     *string           `bson:"reported_user,omitempty"`
	ReportedUsername *string           `bson:"reported_username,omitempty"`
	Messages         []messageDocument `bson:"messages"`
	Revision         int64             `bson:"revision"`
	CreatedAt        time.Time         `bson:"created_at"`
	UpdatedAt        time.Time         `bson:"updated_at"`
	ClosedAt         *time.Time        `bson:"closed_at"`
}

type messageDocument struct {
	ID             string               `bson:"message_id"`
	SenderID       string               `bson:"sender_id"`
	SenderUsername string               `bson:"sender_username"`
	SenderRole     string               `bson:"sender_role"`
	Content        string               `bson:"content"`
	IsInternal     bool                 `bson:"is_internal"`
	Attachments    []attachmentDocument `bson:"attachments,omitempty"`
	Timestamp      time.Time            `bson:"timestamp"`
}

type attachmentDocument struct {
	Key       string `bson:"key"`
	FileName  string `bson:"file_name"`
	MimeType  string `bson:"mime_type"`
	SizeBytes int64  `bson:"size_bytes"`
	URL       string `bson:"url,omitempty"`
}

func toTicketDocument(t *domain.Ticket) ticketDocument {
	doc := ticketDocument{
		ID:               t.ID,
		ExternalKey:      t.ExternalKey,
		UserID:           t.UserID,
		Username:         t.Username,
		Type:             string(t.Type),
		Title:            t.Title,
		Description:      t.Description,
		Status:           string(t.Status),
		Priority:         string(t.Priority),
		AssignedTo:       t.AssignedTo,
		ReportedUser:     t.ReportedUser,
		ReportedUsername: t.ReportedUsername,
		Messages:         make([]messageDocument, 0, len(t.Messages)),
		Revision:         t.Revision,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		ClosedAt:         t.ClosedAt,
	}
	for _, msg := range t.Messages {
		doc.Messages = append(doc.Messages, toMessageDocument(msg))
	}
	return doc
}

func toMessageDocument(m domain.Message) messageDocument {
	doc := messageDocument{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		SenderRole:     m.SenderRole.String(),
		Content:        m.Content,
		IsInternal:     m.IsInternal,
		Timestamp:      m.Timestamp,
	}
	for _, att := range m.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDocument(att))
	}
	return doc
}

func (d ticketDocument) toDomain() (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		ID:               d.ID,
		ExternalKey:      d.ExternalKey,
		UserID:           d.UserID,
		Username:         d.Username,
		Type:             domain.TicketType(d.Type),
		Title:            d.Title,
		Description:      d.Description,
		Status:           domain.TicketStatus(d.Status),
		Priority:         domain.TicketPriority(d.Priority),
		AssignedTo:       d.AssignedTo,
		ReportedUser:     d.ReportedUser,
		ReportedUsername: d.ReportedUsername,
		Messages:         make([]domain.Message, 0, len(d.Messages)),
		Revision:         d.Revision,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
	if d.ClosedAt != nil {
		closedAt := d.ClosedAt.UTC()
		ticket.ClosedAt = &closedAt
	}
	for _, m := range d.Messages {
		role, err := domain.ParseRole(m.SenderRole)
		if err != nil {
			return nil, fmt.Errorf("ticket %s message %s: %w", d.ID, m.ID, err)
		}
		msg := domain.Message{
			ID:             m.ID,
			SenderID:       m.SenderID,
			SenderUsername: m.SenderUsername,
			SenderRole:     role,
			Content:        m.Content,
			IsInternal:     m.IsInternal,
			Timestamp:      m.Timestamp.UTC(),
		}
		for _, att := range m.Attachments {
			msg.Attachments = append(msg.Attachments, domain.AttachmentReference(att))
		}
		ticket.Messages = append(ticket.Messages, msg)
	}
	return ticket, nil
}

// buildMongoUpdate translates a TicketUpdate into $set/$push/$inc operators.
func buildMongoUpdate(update TicketUpdate) bson.M {
	set := bson.M{"updated_at": update.UpdatedAt}
	if update.Status != nil {
		set["status"] = string(*update.Status)
	}
	if update.Priority != nil {
		set["priority"] = string(*update.Priority)
	}
	if update.AssignedTo != nil {
		set["assigned_to"] = update.AssignedTo.Value
	}
	if update.ClosedAt != nil {
		set["closed_at"] = update.ClosedAt.Value
	}

	ops := bson.M{
		"$set": set,
		"$inc": bson.M{"revision": 1},
	}
	if update.AppendMessage != nil {
		ops["$push"] = bson.M{"messages": toMessageDocument(*update.AppendMessage)}
	}
	return ops
}

func accountFilter(accountID string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"user_id": accountID},
		bson.M{"reported_user": accountID},
	}}
}
