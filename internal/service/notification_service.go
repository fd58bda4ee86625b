package service

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/events"
)

const (
	defaultNotificationQueueSize = 256
	defaultPublishTimeout        = 2 * time.Second
)

// NotificationService fans ticket events out of the process. Dispatcher
// handlers only enqueue into a bounded queue; Run drains it into the sink.
type NotificationService struct {
	dispatcher     events.Dispatcher
	sink           events.Sink
	logger         *zap.Logger
	queue          chan events.Event
	publishTimeout time.Duration
	dropped        atomic.Int64
}

// NotificationServiceDependencies wires the notification service.
type NotificationServiceDependencies struct {
	Dispatcher events.Dispatcher
	// Sink may be nil, in which case events are only logged.
	Sink           events.Sink
	Logger         *zap.Logger
	QueueSize      int
	PublishTimeout time.Duration
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationServiceDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := deps.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	timeout := deps.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &NotificationService{
		dispatcher:     deps.Dispatcher,
		sink:           deps.Sink,
		logger:         logger,
		queue:          make(chan events.Event, size),
		publishTimeout: timeout,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

// Run forwards queued events to the sink until ctx is done. Events still
// queued at that point are forwarded before Run returns, each bounded by the
// publish timeout.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case event := <-n.queue:
			n.forward(event)
		case <-ctx.Done():
			n.flush()
			return
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *NotificationService) Dropped() int64 {
	return n.dropped.Load()
}

func (n *NotificationService) handle(_ context.Context, event events.Event) error {
	n.logger.Info("ticket event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Any("payload", event.Payload))
	if n.sink == nil {
		return nil
	}
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification queue full, dropping ticket event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int("queue_size", cap(n.queue)))
	}
	return nil
}

func (n *NotificationService) flush() {
	for {
		select {
		case event := <-n.queue:
			n.forward(event)
		default:
			return
		}
	}
}

// forward publishes on a context detached from the originating request.
func (n *NotificationService) forward(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
	defer cancel()
	if err := n.sink.Publish(ctx, event); err != nil {
		n.logger.Error("forward ticket event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}
