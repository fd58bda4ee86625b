package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

func newTicket(id, userID string, createdAt time.Time) *domain.Ticket {
	return &domain.Ticket{
		ID:          id,
		ExternalKey: "TCK-" + id,
		UserID:      userID,
		Username:    "name-" + userID,
		Type:        domain.TicketTypeBugReport,
		Title:       "title",
		Status:      domain.TicketStatusOpen,
		Priority:    domain.TicketPriorityMedium,
		Messages:    []domain.Message{},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestMemoryCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	if err := repo.Create(ctx, newTicket("t1", "u1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	sameID := newTicket("t1", "u2", time.Now())
	sameID.ExternalKey = "TCK-OTHER"
	if err := repo.Create(ctx, sameID); !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("duplicate id: got %v, want ErrDuplicateTicket", err)
	}

	sameKey := newTicket("t2", "u2", time.Now())
	sameKey.ExternalKey = "TCK-t1"
	if err := repo.Create(ctx, sameKey); !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("duplicate external key: got %v, want ErrDuplicateTicket", err)
	}
	if _, err := repo.GetByID(ctx, "t2"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("rejected ticket must not be stored, got %v", err)
	}
}

func TestMemoryUpdateRequiresCurrentRevision(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Create(ctx, newTicket("t1", "u1", base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	status := domain.TicketStatusInProgress
	updated, err := repo.Update(ctx, "t1", 0, TicketUpdate{Status: &status, UpdatedAt: base.Add(time.Second)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Revision != 1 || updated.Status != status {
		t.Fatalf("unexpected ticket after update: %+v", updated)
	}

	if _, err := repo.Update(ctx, "t1", 0, TicketUpdate{UpdatedAt: base.Add(2 * time.Second)}); !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("stale revision: got %v, want ErrRevisionConflict", err)
	}
	if _, err := repo.Update(ctx, "missing", 0, TicketUpdate{}); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("missing ticket: got %v, want ErrTicketNotFound", err)
	}

	stored, err := repo.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.UpdatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("failed update must not touch updated_at, got %v", stored.UpdatedAt)
	}
}

func TestMemoryUpdateAppliesFields(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.Create(ctx, newTicket("t1", "u1", base)); err != nil {
		t.Fatalf("create: %v", err)
	}

	assignee := "mod-1"
	closedAt := base.Add(time.Minute)
	priority := domain.TicketPriorityHigh
	msg := domain.Message{ID: "m1", SenderID: "u1", SenderRole: domain.RoleUser, Content: "hi", Timestamp: base}
	ticket, err := repo.Update(ctx, "t1", 0, TicketUpdate{
		Priority:      &priority,
		AssignedTo:    &NullableString{Value: &assignee},
		ClosedAt:      &NullableTime{Value: &closedAt},
		AppendMessage: &msg,
		UpdatedAt:     closedAt,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ticket.Priority != priority || ticket.AssignedTo == nil || *ticket.AssignedTo != assignee {
		t.Errorf("fields not applied: %+v", ticket)
	}
	if ticket.ClosedAt == nil || !ticket.ClosedAt.Equal(closedAt) {
		t.Errorf("closed_at not applied: %v", ticket.ClosedAt)
	}
	if len(ticket.Messages) != 1 || ticket.Messages[0].ID != "m1" {
		t.Errorf("message not appended: %+v", ticket.Messages)
	}

	ticket, err = repo.Update(ctx, "t1", 1, TicketUpdate{
		AssignedTo: &NullableString{},
		ClosedAt:   &NullableTime{},
		UpdatedAt:  closedAt.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("clear update: %v", err)
	}
	if ticket.AssignedTo != nil || ticket.ClosedAt != nil {
		t.Errorf("nullable fields should be cleared: %+v", ticket)
	}
}

func TestMemoryGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	if err := repo.Create(ctx, newTicket("t1", "u1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := repo.GetByID(ctx, "t1")
	got.Title = "changed"
	got.Messages = append(got.Messages, domain.Message{ID: "x"})

	again, _ := repo.GetByID(ctx, "t1")
	if again.Title != "title" || len(again.Messages) != 0 {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestMemoryConcurrentGuardedAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	if err := repo.Create(ctx, newTicket("t1", "u1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				current, err := repo.GetByID(ctx, "t1")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				msg := domain.Message{ID: string(rune('a' + i)), SenderRole: domain.RoleUser, Content: "x"}
				_, err = repo.Update(ctx, "t1", current.Revision, TicketUpdate{AppendMessage: &msg, UpdatedAt: time.Now()})
				if errors.Is(err, ErrRevisionConflict) {
					continue
				}
				if err != nil {
					t.Errorf("update: %v", err)
				}
				return
			}
		}(i)
	}
	wg.Wait()

	final, _ := repo.GetByID(ctx, "t1")
	if len(final.Messages) != writers {
		t.Fatalf("got %d messages, want %d", len(final.Messages), writers)
	}
	if final.Revision != writers {
		t.Fatalf("revision = %d, want %d", final.Revision, writers)
	}
}

func TestMemoryListByAccount(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reported := "u1"
	reportedName := "Alice"
	userReport := newTicket("t3", "u2", base.Add(2*time.Hour))
	userReport.Type = domain.TicketTypeUserReport
	userReport.ReportedUser = &reported
	userReport.ReportedUsername = &reportedName

	for _, ticket := range []*domain.Ticket{
		newTicket("t1", "u1", base),
		newTicket("t2", "u1", base.Add(time.Hour)),
		userReport,
		newTicket("t4", "u9", base.Add(3*time.Hour)),
	} {
		if err := repo.Create(ctx, ticket); err != nil {
			t.Fatalf("create %s: %v", ticket.ID, err)
		}
	}

	collect := func(opts ListOptions) []string {
		var ids []string
		for ticket, err := range repo.ListByAccount(ctx, "u1", opts) {
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			ids = append(ids, ticket.ID)
		}
		return ids
	}

	assertIDs(t, collect(ListOptions{}), "t3", "t2", "t1")
	assertIDs(t, collect(ListOptions{OldestFirst: true}), "t1", "t2", "t3")
	assertIDs(t, collect(ListOptions{Limit: 2}), "t3", "t2")

	seq := repo.ListByAccount(ctx, "u1", ListOptions{})
	first := 0
	for range seq {
		first++
	}
	if err := repo.Create(ctx, newTicket("t5", "u1", base.Add(4*time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := 0
	for range seq {
		second++
	}
	if second != first+1 {
		t.Errorf("re-iterating should observe new tickets: %d then %d", first, second)
	}
}

func assertIDs(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}
