package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherDeliversToSubscribersOfType(t *testing.T) {
	d := NewInMemoryDispatcher()
	var created, assigned int
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { created++; return nil })
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error { created++; return nil })
	d.Subscribe(EventTicketAssigned, func(context.Context, Event) error { assigned++; return nil })

	if err := d.Publish(context.Background(), Event{Type: EventTicketCreated, TicketID: "t1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if created != 2 || assigned != 0 {
		t.Fatalf("created=%d assigned=%d", created, assigned)
	}
}

func TestDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher()
	boom := errors.New("boom")
	var secondCalled bool
	d.Subscribe(EventTicketMessageAdded, func(context.Context, Event) error { return boom })
	d.Subscribe(EventTicketMessageAdded, func(context.Context, Event) error { secondCalled = true; return nil })

	err := d.Publish(context.Background(), Event{Type: EventTicketMessageAdded})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined handler error, got %v", err)
	}
	if !secondCalled {
		t.Fatal("later handlers must still run")
	}
}

func TestDispatcherNoSubscribers(t *testing.T) {
	if err := NewInMemoryDispatcher().Publish(context.Background(), Event{Type: EventTicketStatusChanged}); err != nil {
		t.Fatalf("publish without subscribers: %v", err)
	}
}
