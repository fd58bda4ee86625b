package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/repository"
)

type fakeSink struct {
	mu        sync.Mutex
	published []events.Event
	err       error
}

func (f *fakeSink) Publish(_ context.Context, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// blockingSink holds every Publish until release is closed or the publish
// context expires.
type blockingSink struct {
	release chan struct{}
	calls   chan struct{}
}

func newBlockingSink() *blockingSink {
	return &blockingSink{release: make(chan struct{}), calls: make(chan struct{}, 64)}
}

func (b *blockingSink) Publish(ctx context.Context, _ events.Event) error {
	b.calls <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestNotificationServiceForwardsEveryEventType(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sink := &fakeSink{}
	svc := NewNotificationService(NotificationServiceDependencies{Dispatcher: dispatcher, Sink: sink})
	svc.RegisterHandlers()

	for _, eventType := range events.AllEventTypes {
		if err := dispatcher.Publish(context.Background(), events.Event{ID: string(eventType), Type: eventType, TicketID: "t1"}); err != nil {
			t.Fatalf("publish %s: %v", eventType, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)

	if got := sink.count(); got != len(events.AllEventTypes) {
		t.Fatalf("forwarded %d events, want %d", got, len(events.AllEventTypes))
	}
}

func TestNotificationServiceSinkErrorsStayOffPublishPath(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(NotificationServiceDependencies{
		Dispatcher: dispatcher,
		Sink:       &fakeSink{err: errors.New("redis down")},
	}).RegisterHandlers()

	if err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketCreated}); err != nil {
		t.Fatalf("sink errors must not reach the publisher, got %v", err)
	}
}

func TestNotificationServiceDropsWhenQueueFull(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sink := &fakeSink{}
	svc := NewNotificationService(NotificationServiceDependencies{Dispatcher: dispatcher, Sink: sink, QueueSize: 2})
	svc.RegisterHandlers()

	for i := 0; i < 5; i++ {
		if err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketAssigned}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := svc.Dropped(); got != 3 {
		t.Fatalf("dropped %d events, want 3", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Run(ctx)
	if got := sink.count(); got != 2 {
		t.Fatalf("forwarded %d events, want 2", got)
	}
}

func TestNotificationServicePublishTimeoutIsDetached(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sink := newBlockingSink()
	svc := NewNotificationService(NotificationServiceDependencies{
		Dispatcher:     dispatcher,
		Sink:           sink,
		PublishTimeout: 20 * time.Millisecond,
	})
	svc.RegisterHandlers()

	// The originating context is already cancelled; forwarding still runs on
	// its own deadline.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	cancelReq()
	if err := dispatcher.Publish(reqCtx, events.Event{Type: events.EventTicketCreated}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	svc.Run(ctx)
	if len(sink.calls) != 1 {
		t.Fatalf("sink called %d times, want 1", len(sink.calls))
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond || elapsed > time.Second {
		t.Fatalf("forward took %v, want roughly the publish timeout", elapsed)
	}
}

func TestNotificationServiceWithoutSink(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	svc := NewNotificationService(NotificationServiceDependencies{Dispatcher: dispatcher})
	svc.RegisterHandlers()
	if err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketAssigned}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if svc.Dropped() != 0 {
		t.Fatalf("nothing should be queued without a sink")
	}
}

func TestSlowSinkDoesNotDelayTicketWrites(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sink := newBlockingSink()
	defer close(sink.release)

	svc := NewNotificationService(NotificationServiceDependencies{
		Dispatcher:     dispatcher,
		Sink:           sink,
		PublishTimeout: time.Minute,
	})
	svc.RegisterHandlers()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	store := NewTicketStore(TicketStoreDependencies{
		TicketRepo:  repository.NewMemoryTicketRepository(),
		HistoryRepo: repository.NewMemoryTicketHistoryRepository(),
		Dispatcher:  dispatcher,
	})

	start := time.Now()
	ticket, err := store.Create(context.Background(), bugReport("u1", "alice"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// The worker is now parked inside the sink.
	select {
	case <-sink.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the created event")
	}
	if _, err := store.AppendMessage(context.Background(), AppendMessageInput{
		TicketID:       ticket.ID,
		SenderID:       "u1",
		SenderUsername: "alice",
		SenderRole:     domain.RoleUser,
		Content:        "still broken",
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("writes took %v while the sink was blocked", elapsed)
	}
}
