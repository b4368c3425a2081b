package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/utafrali/identity/internal/domain"
	pkgkafka "github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/logger"
)

// Kafka topics published by the identity service.
var (
	TopicEmailRequested       = pkgkafka.Topic("email", "requested")
	TopicAccountRegistered    = pkgkafka.Topic("account", "registered")
	TopicAccountPasswordReset = pkgkafka.Topic("account", "password_reset")
	TopicAccountLocked        = pkgkafka.Topic("account", "locked")
)

// Aggregate types.
const (
	AggregateTypeAccount = "account"
	AggregateTypeEmail   = "email"
)

// SourceIdentityService identifies events originating from this service.
const SourceIdentityService = "identity-service"

// EmailRequestedData is the payload of an email.requested event.
type EmailRequestedData struct {
	Template string `json:"template"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

// AccountRegisteredData is the payload of an account.registered event.
type AccountRegisteredData struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ProjectID int64  `json:"project_id"`
	Provider  string `json:"provider,omitempty"`
}

// AccountPasswordResetData is the payload of an account.password_reset event.
type AccountPasswordResetData struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	ProjectID int64  `json:"project_id"`
	Cleared   bool   `json:"cleared"`
}

// AccountLockedData is the payload of an account.locked event.
type AccountLockedData struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	ProjectID int64  `json:"project_id"`
}

// Publisher is the Kafka surface the producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes identity domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishEmailRequested asks the mail worker to deliver a message.
func (p *Producer) PublishEmailRequested(ctx context.Context, data EmailRequestedData) error {
	return p.publish(ctx, TopicEmailRequested, data.To, AggregateTypeEmail, data)
}

// PublishAccountRegistered publishes an account.registered event.
func (p *Producer) PublishAccountRegistered(ctx context.Context, a *domain.Account, provider string) error {
	data := AccountRegisteredData{
		AccountID: a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		ProjectID: a.ProjectID,
		Provider:  provider,
	}
	return p.publish(ctx, TopicAccountRegistered, strconv.FormatInt(a.ID, 10), AggregateTypeAccount, data)
}

// PublishAccountPasswordReset publishes an account.password_reset event.
// cleared marks resets that removed the password rather than replacing it.
func (p *Producer) PublishAccountPasswordReset(ctx context.Context, a *domain.Account, cleared bool) error {
	data := AccountPasswordResetData{
		AccountID: a.ID,
		Email:     a.Email,
		ProjectID: a.ProjectID,
		Cleared:   cleared,
	}
	return p.publish(ctx, TopicAccountPasswordReset, strconv.FormatInt(a.ID, 10), AggregateTypeAccount, data)
}

// PublishAccountLocked publishes an account.locked event.
func (p *Producer) PublishAccountLocked(ctx context.Context, a *domain.Account) error {
	data := AccountLockedData{
		AccountID: a.ID,
		Email:     a.Email,
		ProjectID: a.ProjectID,
	}
	return p.publish(ctx, TopicAccountLocked, strconv.FormatInt(a.ID, 10), AggregateTypeAccount, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	evt, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	evt.WithTicket(logger.TicketFromContext(ctx))

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
		slog.String("event_id", evt.EventID),
	)
	return nil
}
