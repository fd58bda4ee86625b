package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const (
	defaultMaxWriteAttempts = 10
	maxCreateAttempts       = 5
	messagePreviewLength    = 140
)

// AttachmentStorage stores message evidence outside the ticket document.
type AttachmentStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (domain.ObjectRef, error)
}

// TicketStore owns ticket lifecycle rules and per-viewer filtering.
type TicketStore struct {
	tickets     repository.TicketRepository
	history     repository.TicketHistoryRepository
	attachments AttachmentStorage
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	clock       func() time.Time
	maxAttempts int
	newKey      func() string
}

// TicketStoreDependencies bundles collaborators for the ticket store.
type TicketStoreDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	// Attachments is optional; messages with files are rejected without it.
	Attachments      AttachmentStorage
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	Clock            func() time.Time
	MaxWriteAttempts int
	// KeyGenerator mints external keys; defaults to generateTicketKey.
	KeyGenerator func() string
}

// CreateTicketInput describes a new bug report or user report.
type CreateTicketInput struct {
	UserID           string
	Username         string
	Type             domain.TicketType
	Title            string
	Description      string
	ReportedUser     *string
	ReportedUsername *string
}

// AttachmentInput is a file sent along with a message.
type AttachmentInput struct {
	FileName string
	MimeType string
	Data     []byte
}

// AppendMessageInput describes a message appended to a ticket.
type AppendMessageInput struct {
	TicketID       string
	SenderID       string
	SenderUsername string
	SenderRole     domain.Role
	Content        string
	IsInternal     bool
	Attachments    []AttachmentInput
}

// NewTicketStore wires the store.
func NewTicketStore(deps TicketStoreDependencies) *TicketStore {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	attempts := deps.MaxWriteAttempts
	if attempts <= 0 {
		attempts = defaultMaxWriteAttempts
	}
	newKey := deps.KeyGenerator
	if newKey == nil {
		newKey = generateTicketKey
	}
	return &TicketStore{
		tickets:     deps.TicketRepo,
		history:     deps.HistoryRepo,
		attachments: deps.Attachments,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		clock:       clock,
		maxAttempts: attempts,
		newKey:      newKey,
	}
}

// Create files a new ticket in the open state.
func (s *TicketStore) Create(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.clock().UTC().Truncate(time.Millisecond)
	ticket := &domain.Ticket{
		UserID:      input.UserID,
		Username:    strings.TrimSpace(input.Username),
		Type:        input.Type,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Status:      domain.TicketStatusOpen,
		Priority:    domain.TicketPriorityMedium,
		Messages:    []domain.Message{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.Type == domain.TicketTypeUserReport {
		reportedUser := strings.TrimSpace(*input.ReportedUser)
		reportedUsername := strings.TrimSpace(*input.ReportedUsername)
		ticket.ReportedUser = &reportedUser
		ticket.ReportedUsername = &reportedUsername
	}

	if err := s.insert(ctx, ticket); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    accountActor(domain.RoleUser, ticket.UserID),
		Payload: events.TicketCreatedPayload{
			Type:         ticket.Type,
			Priority:     ticket.Priority,
			Title:        ticket.Title,
			ReportedUser: ticket.ReportedUser,
		},
	})
	return ticket.Clone(), nil
}

// insert assigns the ticket a fresh id and external key, drawing new ones
// while the repository reports either as taken.
func (s *TicketStore) insert(ctx context.Context, ticket *domain.Ticket) error {
	for attempt := 1; ; attempt++ {
		ticket.ID = uuid.NewString()
		ticket.ExternalKey = s.newKey()
		err := s.tickets.Create(ctx, ticket)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateTicket) {
			return storageError(err, ticket.ID)
		}
		if attempt >= maxCreateAttempts {
			s.logger.Error("ticket key space exhausted",
				zap.String("external_key", ticket.ExternalKey),
				zap.Int("attempts", attempt))
			return apperrors.NewConflict("could not allocate a unique ticket key", map[string]any{"attempts": attempt})
		}
		s.logger.Debug("ticket key collision, retrying",
			zap.String("external_key", ticket.ExternalKey),
			zap.Int("attempt", attempt))
	}
}

func validateCreateInput(input CreateTicketInput) error {
	details := map[string]any{}
	if strings.TrimSpace(input.UserID) == "" {
		details["user_id"] = "required"
	}
	if strings.TrimSpace(input.Username) == "" {
		details["username"] = "required"
	}
	if strings.TrimSpace(input.Title) == "" {
		details["title"] = "required"
	}
	if strings.TrimSpace(input.Description) == "" {
		details["description"] = "required"
	}
	switch input.Type {
	case domain.TicketTypeUserReport:
		if input.ReportedUser == nil || strings.TrimSpace(*input.ReportedUser) == "" {
			details["reported_user"] = "required for user_report"
		}
		if input.ReportedUsername == nil || strings.TrimSpace(*input.ReportedUsername) == "" {
			details["reported_username"] = "required for user_report"
		}
		if input.ReportedUser != nil && *input.ReportedUser != "" && strings.TrimSpace(*input.ReportedUser) == input.UserID {
			details["reported_user"] = "cannot report yourself"
		}
	case domain.TicketTypeBugReport:
		if input.ReportedUser != nil {
			details["reported_user"] = "not allowed for bug_report"
		}
		if input.ReportedUsername != nil {
			details["reported_username"] = "not allowed for bug_report"
		}
	default:
		details["type"] = "must be bug_report or user_report"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket", details)
	}
	return nil
}

// AppendMessage adds a message to the ticket's conversation log.
func (s *TicketStore) AppendMessage(ctx context.Context, input AppendMessageInput) (*domain.Message, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, apperrors.NewValidationError("message content is required", map[string]any{"content": "required"})
	}
	if !input.SenderRole.Valid() {
		return nil, apperrors.NewValidationError("invalid sender role", map[string]any{"sender_role": input.SenderRole.String()})
	}
	if strings.TrimSpace(input.SenderID) == "" {
		return nil, apperrors.NewValidationError("sender is required", map[string]any{"sender_id": "required"})
	}
	if len(input.Attachments) > 0 {
		if s.attachments == nil {
			return nil, apperrors.NewValidationError("attachments are not supported", nil)
		}
		for i, attachment := range input.Attachments {
			if strings.TrimSpace(attachment.FileName) == "" || len(attachment.Data) == 0 {
				return nil, apperrors.NewValidationError("invalid attachment", map[string]any{"index": i})
			}
		}
	}

	messageID := uuid.NewString()
	var (
		message  domain.Message
		uploaded []domain.AttachmentReference
	)
	_, updated, err := s.mutate(ctx, input.TicketID, func(ticket *domain.Ticket, now time.Time) (repository.TicketUpdate, error) {
		if input.SenderRole == domain.RoleUser {
			if !ticket.Involves(input.SenderID) {
				return repository.TicketUpdate{}, apperrors.NewForbidden("not a participant of this ticket")
			}
			if ticket.Status == domain.TicketStatusClosed {
				return repository.TicketUpdate{}, apperrors.NewForbidden("ticket is closed")
			}
			if input.IsInternal {
				return repository.TicketUpdate{}, apperrors.NewForbidden("only staff can post internal notes")
			}
		}
		if uploaded == nil && len(input.Attachments) > 0 {
			refs, err := s.uploadAttachments(ctx, ticket.ID, messageID, input.Attachments)
			if err != nil {
				return repository.TicketUpdate{}, err
			}
			uploaded = refs
		}
		message = domain.Message{
			ID:             messageID,
			SenderID:       input.SenderID,
			SenderUsername: strings.TrimSpace(input.SenderUsername),
			SenderRole:     input.SenderRole,
			Content:        strings.TrimSpace(input.Content),
			IsInternal:     input.IsInternal,
			Attachments:    uploaded,
			Timestamp:      now,
		}
		return repository.TicketUpdate{AppendMessage: &message}, nil
	})
	if err != nil {
		return nil, err
	}

	payload := events.TicketMessageAddedPayload{
		MessageID:   message.ID,
		SenderID:    message.SenderID,
		SenderRole:  message.SenderRole,
		IsInternal:  message.IsInternal,
		Attachments: len(message.Attachments),
	}
	if !message.IsInternal {
		payload.BodyPreview = stringPreview(message.Content, messagePreviewLength)
	}
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketMessageAdded,
		TicketID:  updated.ID,
		Actor:     accountActor(message.SenderRole, message.SenderID),
		Timestamp: message.Timestamp,
		Payload:   payload,
	})
	return &message, nil
}

func (s *TicketStore) uploadAttachments(ctx context.Context, ticketID, messageID string, inputs []AttachmentInput) ([]domain.AttachmentReference, error) {
	refs := make([]domain.AttachmentReference, 0, len(inputs))
	for _, input := range inputs {
		fileName := path.Base(strings.TrimSpace(input.FileName))
		key := fmt.Sprintf("tickets/%s/%s/%s", ticketID, messageID, fileName)
		mimeType := input.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		obj, err := s.attachments.Upload(ctx, key, input.Data, mimeType)
		if err != nil {
			s.logger.Error("attachment upload failed",
				zap.String("ticket_id", ticketID),
				zap.String("key", key),
				zap.Error(err))
			return nil, apperrors.MapError(fmt.Errorf("upload %s: %w", fileName, err))
		}
		refs = append(refs, domain.AttachmentReference{
			Key:       obj.Key,
			FileName:  fileName,
			MimeType:  mimeType,
			SizeBytes: int64(len(input.Data)),
			URL:       obj.URL,
		})
	}
	return refs, nil
}

// TransitionStatus moves the ticket along the lifecycle.
func (s *TicketStore) TransitionStatus(ctx context.Context, ticketID string, actorRole domain.Role, newStatus domain.TicketStatus) (*domain.Ticket, error) {
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": string(newStatus)})
	}
	if !actorRole.CanManageTickets() {
		return nil, apperrors.NewForbidden("only staff can change ticket status")
	}

	before, updated, err := s.mutate(ctx, ticketID, func(ticket *domain.Ticket, now time.Time) (repository.TicketUpdate, error) {
		if !domain.CanTransition(ticket.Status, newStatus) {
			return repository.TicketUpdate{}, apperrors.NewInvalidTransition(string(ticket.Status), string(newStatus))
		}
		update := repository.TicketUpdate{Status: &newStatus}
		switch {
		case newStatus == domain.TicketStatusClosed:
			closedAt := now
			update.ClosedAt = &repository.NullableTime{Value: &closedAt}
		case ticket.ClosedAt != nil:
			update.ClosedAt = &repository.NullableTime{}
		}
		return update, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, updated, actorRole, domain.ChangeTypeStatus,
		map[string]any{"status": before.Status},
		map[string]any{"status": updated.Status})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  updated.ID,
		Actor:     roleActor(actorRole),
		Timestamp: updated.UpdatedAt,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: before.Status,
			NewStatus: updated.Status,
		},
	})
	return updated, nil
}

// Assign sets the handling staff member. A nil assignee un-assigns.
func (s *TicketStore) Assign(ctx context.Context, ticketID string, actorRole domain.Role, assigneeAccountID *string) (*domain.Ticket, error) {
	if assigneeAccountID != nil && strings.TrimSpace(*assigneeAccountID) == "" {
		return nil, apperrors.NewValidationError("assignee must not be empty", map[string]any{"assigned_to": "empty"})
	}
	if !actorRole.CanManageTickets() {
		return nil, apperrors.NewForbidden("only staff can assign tickets")
	}

	var assignee *string
	if assigneeAccountID != nil {
		v := strings.TrimSpace(*assigneeAccountID)
		assignee = &v
	}
	before, updated, err := s.mutate(ctx, ticketID, func(*domain.Ticket, time.Time) (repository.TicketUpdate, error) {
		return repository.TicketUpdate{AssignedTo: &repository.NullableString{Value: assignee}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, updated, actorRole, domain.ChangeTypeAssignee,
		map[string]any{"assigned_to": before.AssignedTo},
		map[string]any{"assigned_to": updated.AssignedTo})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketAssigned,
		TicketID:  updated.ID,
		Actor:     roleActor(actorRole),
		Timestamp: updated.UpdatedAt,
		Payload: events.TicketAssignedPayload{
			OldAssignee: before.AssignedTo,
			NewAssignee: updated.AssignedTo,
		},
	})
	return updated, nil
}

// SetPriority changes the handling urgency.
func (s *TicketStore) SetPriority(ctx context.Context, ticketID string, actorRole domain.Role, newPriority domain.TicketPriority) (*domain.Ticket, error) {
	if !newPriority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": string(newPriority)})
	}
	if !actorRole.CanManageTickets() {
		return nil, apperrors.NewForbidden("only staff can change ticket priority")
	}

	before, updated, err := s.mutate(ctx, ticketID, func(*domain.Ticket, time.Time) (repository.TicketUpdate, error) {
		return repository.TicketUpdate{Priority: &newPriority}, nil
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, updated, actorRole, domain.ChangeTypePriority,
		map[string]any{"priority": before.Priority},
		map[string]any{"priority": updated.Priority})
	s.publishEvent(ctx, events.Event{
		Type:      events.EventTicketPriorityChanged,
		TicketID:  updated.ID,
		Actor:     roleActor(actorRole),
		Timestamp: updated.UpdatedAt,
		Payload: events.TicketPriorityChangedPayload{
			OldPriority: before.Priority,
			NewPriority: updated.Priority,
		},
	})
	return updated, nil
}

// GetForViewer returns a snapshot of the ticket filtered for the viewer.
func (s *TicketStore) GetForViewer(ctx context.Context, ticketID, viewerAccountID string, viewerRole domain.Role) (*domain.Ticket, error) {
	if !viewerRole.Valid() {
		return nil, apperrors.NewValidationError("invalid viewer role", nil)
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, storageError(err, ticketID)
	}
	if !viewerRole.IsStaff() && !ticket.Involves(viewerAccountID) {
		return nil, apperrors.NewForbidden("ticket belongs to another account")
	}
	return ticket.VisibleTo(viewerRole), nil
}

// ListForAccount yields the tickets the account filed or is reported in,
// filtered for viewerRole. Each range over the result re-queries the store.
func (s *TicketStore) ListForAccount(ctx context.Context, accountID string, viewerRole domain.Role, opts repository.ListOptions) iter.Seq2[domain.Ticket, error] {
	return func(yield func(domain.Ticket, error) bool) {
		if strings.TrimSpace(accountID) == "" || !viewerRole.Valid() || opts.Limit < 0 {
			yield(domain.Ticket{}, apperrors.NewValidationError("invalid listing request", map[string]any{"account_id": accountID}))
			return
		}
		for ticket, err := range s.tickets.ListByAccount(ctx, accountID, opts) {
			if err != nil {
				yield(domain.Ticket{}, apperrors.MapError(err))
				return
			}
			if !yield(*ticket.VisibleTo(viewerRole), nil) {
				return
			}
		}
	}
}

// History returns the audit trail of a ticket. Staff only.
func (s *TicketStore) History(ctx context.Context, ticketID string, actorRole domain.Role) ([]domain.TicketHistory, error) {
	if !actorRole.IsStaff() {
		return nil, apperrors.NewForbidden("only staff can read ticket history")
	}
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, storageError(err, ticketID)
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

type mutation func(ticket *domain.Ticket, now time.Time) (repository.TicketUpdate, error)

// mutate runs a revision-guarded read-modify-write, re-reading the ticket
// whenever another writer got there first. It returns the ticket as read
// before the winning write and the ticket after it.
func (s *TicketStore) mutate(ctx context.Context, ticketID string, fn mutation) (*domain.Ticket, *domain.Ticket, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, nil, storageError(err, ticketID)
		}
		now := nextTimestamp(s.clock(), current.UpdatedAt)
		update, err := fn(current, now)
		if err != nil {
			return nil, nil, err
		}
		update.UpdatedAt = now

		updated, err := s.tickets.Update(ctx, ticketID, current.Revision, update)
		if errors.Is(err, repository.ErrRevisionConflict) {
			s.logger.Debug("ticket write lost race, retrying",
				zap.String("ticket_id", ticketID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, nil, storageError(err, ticketID)
		}
		return current, updated, nil
	}
	s.logger.Warn("ticket write attempts exhausted",
		zap.String("ticket_id", ticketID),
		zap.Int("attempts", s.maxAttempts))
	return nil, nil, apperrors.NewConflict("ticket is being modified concurrently, retry later",
		map[string]any{"ticket_id": ticketID})
}

// nextTimestamp keeps updatedAt strictly increasing at millisecond
// resolution even when the clock stalls or steps back.
func nextTimestamp(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return now
}

func storageError(err error, ticketID string) error {
	if errors.Is(err, repository.ErrTicketNotFound) {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return apperrors.MapError(err)
}

func (s *TicketStore) recordHistory(ctx context.Context, ticket *domain.Ticket, actorRole domain.Role, changeType domain.TicketChangeType, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		ID:            uuid.NewString(),
		TicketID:      ticket.ID,
		ChangedByRole: actorRole,
		ChangeType:    changeType,
		OldValue:      oldValue,
		NewValue:      newValue,
		CreatedAt:     ticket.UpdatedAt,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Error("failed to record ticket history",
			zap.String("ticket_id", ticket.ID),
			zap.String("change_type", string(changeType)),
			zap.Error(err))
	}
}

func (s *TicketStore) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock().UTC()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handlers failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func generateTicketKey() string {
	return "TCK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func accountActor(role domain.Role, accountID string) events.Actor {
	return events.Actor{Role: role, AccountID: &accountID}
}

func roleActor(role domain.Role) events.Actor {
	return events.Actor{Role: role}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
