package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/identity/internal/event"
	pkgkafka "github.com/utafrali/identity/pkg/kafka"
)

const (
	// WorkerGroupID is the consumer group of the mail worker.
	WorkerGroupID = "identity-mail-worker"

	idempotencyPrefix = "identity:mail:processed"
	idempotencyTTL    = 24 * time.Hour
)

// Worker consumes email requests and delivers them.
type Worker struct {
	sender Sender
	logger *slog.Logger
}

// NewWorker creates a worker delivering through sender.
func NewWorker(sender Sender, logger *slog.Logger) *Worker {
	return &Worker{sender: sender, logger: logger}
}

// Handle delivers the email carried by one email.requested event.
func (w *Worker) Handle(ctx context.Context, evt *pkgkafka.Event) error {
	var data event.EmailRequestedData
	if err := evt.UnmarshalData(&data); err != nil {
		return fmt.Errorf("decode email request %s: %w", evt.EventID, err)
	}
	if data.To == "" {
		return fmt.Errorf("email request %s has no recipient", evt.EventID)
	}

	msg := Message{Template: data.Template, To: data.To, Subject: data.Subject, Body: data.Body}
	if err := w.sender.Send(ctx, msg); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "email delivered",
		slog.String("template", data.Template),
		slog.String("event_id", evt.EventID),
		slog.String("ticket", evt.Ticket),
	)
	return nil
}

// NewConsumer builds the Kafka consumer that feeds the worker. Redelivered
// requests are skipped using processed ids kept in Redis.
func (w *Worker) NewConsumer(brokers []string, client redis.Cmdable, dlq pkgkafka.DeadLetterPublisher) *pkgkafka.Consumer {
	store := pkgkafka.NewRedisIdempotencyStore(client, idempotencyPrefix, idempotencyTTL)
	handler := pkgkafka.IdempotentHandler(store, w.Handle, w.logger)

	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers: brokers,
		GroupID: WorkerGroupID,
		Topic:   event.TopicEmailRequested,
	}, handler, dlq, w.logger)
}
