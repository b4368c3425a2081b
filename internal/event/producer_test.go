package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/domain"
	pkgkafka "github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/logger"
)

type recordingPublisher struct {
	topics []string
	events []*pkgkafka.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, e *pkgkafka.Event) error {
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.events = append(r.events, e)
	return nil
}

func newTestProducer() (*Producer, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewProducer(pub, slog.New(slog.NewTextHandler(io.Discard, nil))), pub
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "identity.email.requested", TopicEmailRequested)
	assert.Equal(t, "identity.account.registered", TopicAccountRegistered)
	assert.Equal(t, "identity.account.password_reset", TopicAccountPasswordReset)
	assert.Equal(t, "identity.account.locked", TopicAccountLocked)
}

func TestPublishEmailRequested_CarriesTicket(t *testing.T) {
	p, pub := newTestProducer()
	ctx := logger.WithTicket(context.Background(), "ticket-1")

	err := p.PublishEmailRequested(ctx, EmailRequestedData{Template: "otp", To: "ada@example.com", Subject: "s", Body: "b"})
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, TopicEmailRequested, pub.topics[0])
	assert.Equal(t, "ticket-1", evt.Ticket)
	assert.Equal(t, "ada@example.com", evt.AggregateID)
	assert.Equal(t, SourceIdentityService, evt.Source)

	var data EmailRequestedData
	require.NoError(t, evt.UnmarshalData(&data))
	assert.Equal(t, "otp", data.Template)
}

func TestPublishAccountRegistered(t *testing.T) {
	p, pub := newTestProducer()

	err := p.PublishAccountRegistered(context.Background(), &domain.Account{ID: 10, Email: "a@b.c", ProjectID: 2}, "google")
	require.NoError(t, err)

	var data AccountRegisteredData
	require.NoError(t, pub.events[0].UnmarshalData(&data))
	assert.Equal(t, int64(10), data.AccountID)
	assert.Equal(t, "google", data.Provider)
	assert.Equal(t, "10", pub.events[0].AggregateID)
}

func TestPublish_WrapsError(t *testing.T) {
	p, pub := newTestProducer()
	pub.err = errors.New("broker down")

	err := p.PublishAccountLocked(context.Background(), &domain.Account{ID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish identity.account.locked event")
}
