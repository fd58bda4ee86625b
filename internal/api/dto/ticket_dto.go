package dto

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Type             string  `json:"type" validate:"required,oneof=bug_report user_report"`
	Title            string  `json:"title" validate:"required,max=200"`
	Description      string  `json:"description" validate:"required,max=5000"`
	ReportedUser     *string `json:"reported_user" validate:"omitempty,max=128"`
	ReportedUsername *string `json:"reported_username" validate:"omitempty,max=128"`
}

// AttachmentRequest carries a base64 encoded file.
type AttachmentRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	MimeType string `json:"mime_type" validate:"omitempty,max=127"`
	Data     string `json:"data" validate:"required,base64"`
}

// MaxAttachmentsPerMessage mirrors the max tag on AddMessageRequest.Attachments.
const MaxAttachmentsPerMessage = 5

// AddMessageRequest payload.
type AddMessageRequest struct {
	Content     string              `json:"content" validate:"required,max=10000"`
	IsInternal  bool                `json:"is_internal"`
	Attachments []AttachmentRequest `json:"attachments" validate:"max=5,dive"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress closed"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=low medium high"`
}

// AssignTicketRequest payload. A null assigned_to un-assigns.
type AssignTicketRequest struct {
	AssignedTo *string `json:"assigned_to" validate:"omitempty,min=1,max=128"`
}

// TicketSummary response.
type TicketSummary struct {
	ID           string                `json:"id"`
	ExternalKey  string                `json:"external_key"`
	Type         domain.TicketType     `json:"type"`
	Title        string                `json:"title"`
	Status       domain.TicketStatus   `json:"status"`
	Priority     domain.TicketPriority `json:"priority"`
	AssignedTo   *string               `json:"assigned_to"`
	MessageCount int                   `json:"message_count"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	ID               string                  `json:"id"`
	ExternalKey      string                  `json:"external_key"`
	UserID           string                  `json:"user_id"`
	Username         string                  `json:"username"`
	Type             domain.TicketType       `json:"type"`
	Title            string                  `json:"title"`
	Description      string                  `json:"description"`
	Status           domain.TicketStatus     `json:"status"`
	Priority         domain.TicketPriority   `json:"priority"`
	AssignedTo       *string                 `json:"assigned_to"`
	ReportedUser     *string                 `json:"reported_user,omitempty"`
	ReportedUsername *string                 `json:"reported_username,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	ClosedAt         *time.Time              `json:"closed_at"`
	Messages         []TicketMessageResponse `json:"messages"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID             string                       `json:"id"`
	SenderID       string                       `json:"sender_id"`
	SenderUsername string                       `json:"sender_username"`
	SenderRole     domain.Role                  `json:"sender_role"`
	Content        string                       `json:"content"`
	IsInternal     bool                         `json:"is_internal"`
	Attachments    []domain.AttachmentReference `json:"attachments"`
	Timestamp      time.Time                    `json:"timestamp"`
}

// NewTicketSummary maps a ticket to its list representation.
func NewTicketSummary(t *domain.Ticket) TicketSummary {
	return TicketSummary{
		ID:           t.ID,
		ExternalKey:  t.ExternalKey,
		Type:         t.Type,
		Title:        t.Title,
		Status:       t.Status,
		Priority:     t.Priority,
		AssignedTo:   t.AssignedTo,
		MessageCount: len(t.Messages),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// NewTicketDetail maps an already filtered ticket.
func NewTicketDetail(t *domain.Ticket) TicketDetailResponse {
	messages := make([]TicketMessageResponse, 0, len(t.Messages))
	for i := range t.Messages {
		messages = append(messages, NewTicketMessage(&t.Messages[i]))
	}
	return TicketDetailResponse{
		ID:               t.ID,
		ExternalKey:      t.ExternalKey,
		UserID:           t.UserID,
		Username:         t.Username,
		Type:             t.Type,
		Title:            t.Title,
		Description:      t.Description,
		Status:           t.Status,
		Priority:         t.Priority,
		AssignedTo:       t.AssignedTo,
		ReportedUser:     t.ReportedUser,
		ReportedUsername: t.ReportedUsername,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		ClosedAt:         t.ClosedAt,
		Messages:         messages,
	}
}

// NewTicketMessage maps a message.
func NewTicketMessage(m *domain.Message) TicketMessageResponse {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []domain.AttachmentReference{}
	}
	return TicketMessageResponse{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		SenderRole:     m.SenderRole,
		Content:        m.Content,
		IsInternal:     m.IsInternal,
		Attachments:    attachments,
		Timestamp:      m.Timestamp,
	}
}
