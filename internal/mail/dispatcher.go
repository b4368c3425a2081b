package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/identity/internal/event"
)

const defaultDispatchTimeout = 5 * time.Second

// EmailPublisher hands an email request to the delivery pipeline.
type EmailPublisher interface {
	PublishEmailRequested(ctx context.Context, data event.EmailRequestedData) error
}

// Dispatcher enqueues emails without blocking the caller.
type Dispatcher struct {
	publisher EmailPublisher
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher publishing through publisher.
func NewDispatcher(publisher EmailPublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		timeout:   defaultDispatchTimeout,
		logger:    logger,
	}
}

// Dispatch enqueues msg in the background. The request context only
// contributes its values; cancellation of the request does not abort delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		err := d.publisher.PublishEmailRequested(ctx, event.EmailRequestedData{
			Template: msg.Template,
			To:       msg.To,
			Subject:  msg.Subject,
			Body:     msg.Body,
		})
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to enqueue email",
				slog.String("template", msg.Template),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait blocks until every dispatched email has been handed off.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
