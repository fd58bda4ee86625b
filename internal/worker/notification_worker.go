package worker

import (
	"context"

	"github.com/spec-kit/support-desk/internal/service"
)

// StartNotificationWorker registers notification handlers and starts the
// goroutine forwarding queued events. The returned channel is closed once the
// worker has stopped, after ctx is cancelled and the queue is flushed.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) <-chan struct{} {
	done := make(chan struct{})
	if notificationService == nil {
		close(done)
		return done
	}
	notificationService.RegisterHandlers()
	go func() {
		defer close(done)
		notificationService.Run(ctx)
	}()
	return done
}
