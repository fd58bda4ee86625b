package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeStatus   TicketChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee TicketChangeType = "ASSIGNEE_CHANGE"
	ChangeTypePriority TicketChangeType = "PRIORITY_CHANGE"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID            string           `json:"id"`
	TicketID      string           `json:"ticket_id"`
	ChangedByRole Role             `json:"changed_by_role"`
	ChangeType    TicketChangeType `json:"change_type"`
	OldValue      map[string]any   `json:"old_value"`
	NewValue      map[string]any   `json:"new_value"`
	CreatedAt     time.Time        `json:"created_at"`
}
