package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
	apperrors "github.com/spec-kit/support-desk/pkg/util/errorutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// TicketsHandler manages ticket endpoints shared by every role.
type TicketsHandler struct {
	store *service.TicketStore
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(store *service.TicketStore) *TicketsHandler {
	return &TicketsHandler{store: store}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	ticket, err := h.store.Create(c.UserContext(), service.CreateTicketInput{
		UserID:           principal.AccountID,
		Username:         principal.Username,
		Type:             domain.TicketType(req.Type),
		Title:            req.Title,
		Description:      req.Description,
		ReportedUser:     blankToNil(req.ReportedUser),
		ReportedUsername: blankToNil(req.ReportedUsername),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetail(ticket)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}
	return listTickets(c, h.store, principal.AccountID, principal.Role, opts)
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.store.GetForViewer(c.UserContext(), c.Params("id"), principal.AccountID, principal.Role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket)})
}

// AddMessage POST /tickets/:id/messages.
func (h *TicketsHandler) AddMessage(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AddMessageRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	attachments, err := decodeAttachments(req.Attachments)
	if err != nil {
		return err
	}

	message, err := h.store.AppendMessage(c.UserContext(), service.AppendMessageInput{
		TicketID:       c.Params("id"),
		SenderID:       principal.AccountID,
		SenderUsername: principal.Username,
		SenderRole:     principal.Role,
		Content:        req.Content,
		IsInternal:     req.IsInternal,
		Attachments:    attachments,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketMessage(message)})
}

func listTickets(c *fiber.Ctx, store *service.TicketStore, accountID string, role domain.Role, opts repository.ListOptions) error {
	items := make([]dto.TicketSummary, 0)
	for ticket, err := range store.ListForAccount(c.UserContext(), accountID, role, opts) {
		if err != nil {
			return err
		}
		items = append(items, dto.NewTicketSummary(&ticket))
	}
	return c.JSON(fiber.Map{"data": items})
}

func parseListOptions(c *fiber.Ctx) (repository.ListOptions, error) {
	opts := repository.ListOptions{Limit: defaultListLimit}
	switch strings.ToLower(c.Query("order")) {
	case "", "newest":
	case "oldest":
		opts.OldestFirst = true
	default:
		return opts, apperrors.NewValidationError("invalid order", map[string]any{"order": "must be newest or oldest"})
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			return opts, apperrors.NewValidationError("invalid limit",
				map[string]any{"limit": "must be between 1 and " + strconv.Itoa(maxListLimit)})
		}
		opts.Limit = limit
	}
	return opts, nil
}

func decodeAttachments(reqs []dto.AttachmentRequest) ([]service.AttachmentInput, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	out := make([]service.AttachmentInput, 0, len(reqs))
	for i, req := range reqs {
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid attachment data", map[string]any{"index": i})
		}
		out = append(out, service.AttachmentInput{
			FileName: req.FileName,
			MimeType: req.MimeType,
			Data:     data,
		})
	}
	return out, nil
}

func requirePrincipal(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
