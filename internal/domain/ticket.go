package domain

import "time"

// TicketType distinguishes the two kinds of report a user can file.
type TicketType string

const (
	TicketTypeBugReport  TicketType = "bug_report"
	TicketTypeUserReport TicketType = "user_report"
)

// Valid reports whether t is a known ticket type.
func (t TicketType) Valid() bool {
	return t == TicketTypeBugReport || t == TicketTypeUserReport
}

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// TicketPriority enumerates handling urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	default:
		return false
	}
}

// closed -> open is the explicit reopen; nothing else moves backward.
var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusClosed},
	TicketStatusClosed:     {TicketStatusOpen},
}

// CanTransition reports whether a ticket may move from current to next.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Ticket is the aggregate for bug reports and user reports.
type Ticket struct {
	ID               string         `json:"id"`
	ExternalKey      string         `json:"external_key"`
	UserID           string         `json:"user_id"`
	Username         string         `json:"username"`
	Type             TicketType     `json:"type"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Status           TicketStatus   `json:"status"`
	Priority         TicketPriority `json:"priority"`
	AssignedTo       *string        `json:"assigned_to"`
	ReportedUser     *string        `json:"reported_user,omitempty"`
	ReportedUsername *string        `json:"reported_username,omitempty"`
	Messages         []Message      `json:"messages"`
	Revision         int64          `json:"revision"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ClosedAt         *time.Time     `json:"closed_at"`
}

// IsReporter reports whether accountID filed the ticket.
func (t *Ticket) IsReporter(accountID string) bool {
	return accountID != "" && t.UserID == accountID
}

// IsReportedParty reports whether accountID is the accused account of a user report.
func (t *Ticket) IsReportedParty(accountID string) bool {
	return accountID != "" &&
		t.Type == TicketTypeUserReport &&
		t.ReportedUser != nil &&
		*t.ReportedUser == accountID
}

// Involves reports whether an end user may see this ticket.
func (t *Ticket) Involves(accountID string) bool {
	return t.IsReporter(accountID) || t.IsReportedParty(accountID)
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.AssignedTo = cloneString(t.AssignedTo)
	cp.ReportedUser = cloneString(t.ReportedUser)
	cp.ReportedUsername = cloneString(t.ReportedUsername)
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		cp.ClosedAt = &closedAt
	}
	cp.Messages = make([]Message, len(t.Messages))
	for i := range t.Messages {
		cp.Messages[i] = t.Messages[i].clone()
	}
	return &cp
}

// VisibleTo returns a copy of the ticket with the messages role may read.
func (t *Ticket) VisibleTo(role Role) *Ticket {
	cp := t.Clone()
	if role.SeesInternalMessages() {
		return cp
	}
	filtered := make([]Message, 0, len(cp.Messages))
	for _, msg := range cp.Messages {
		if msg.IsInternal {
			continue
		}
		filtered = append(filtered, msg)
	}
	cp.Messages = filtered
	return cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
