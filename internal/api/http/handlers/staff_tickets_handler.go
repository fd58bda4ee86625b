package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-desk/internal/api/dto"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/service"
)

// StaffTicketsHandler exposes moderation endpoints.
type StaffTicketsHandler struct {
	store *service.TicketStore
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(store *service.TicketStore) *StaffTicketsHandler {
	return &StaffTicketsHandler{store: store}
}

// UpdateStatus POST /staff/tickets/:id/status.
func (h *StaffTicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.store.TransitionStatus(c.UserContext(), c.Params("id"), principal.Role, domain.TicketStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket.VisibleTo(principal.Role))})
}

// Assign POST /staff/tickets/:id/assign.
func (h *StaffTicketsHandler) Assign(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.store.Assign(c.UserContext(), c.Params("id"), principal.Role, req.AssignedTo)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket.VisibleTo(principal.Role))})
}

// UpdatePriority POST /staff/tickets/:id/priority.
func (h *StaffTicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	ticket, err := h.store.SetPriority(c.UserContext(), c.Params("id"), principal.Role, domain.TicketPriority(req.Priority))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(ticket.VisibleTo(principal.Role))})
}

// History GET /staff/tickets/:id/history.
func (h *StaffTicketsHandler) History(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	entries, err := h.store.History(c.UserContext(), c.Params("id"), principal.Role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// ListAccountTickets GET /staff/accounts/:accountId/tickets.
func (h *StaffTicketsHandler) ListAccountTickets(c *fiber.Ctx) error {
	principal, err := requirePrincipal(c)
	if err != nil {
		return err
	}
	opts, err := parseListOptions(c)
	if err != nil {
		return err
	}
	return listTickets(c, h.store, c.Params("accountId"), principal.Role, opts)
}
