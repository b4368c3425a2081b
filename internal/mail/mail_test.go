package mail

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/identity/internal/event"
	pkgkafka "github.com/utafrali/identity/pkg/kafka"
	"github.com/utafrali/identity/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

type blockingPublisher struct {
	mu      sync.Mutex
	got     []event.EmailRequestedData
	tickets []string
	release chan struct{}
	err     error
}

func (p *blockingPublisher) PublishEmailRequested(ctx context.Context, data event.EmailRequestedData) error {
	if p.release != nil {
		<-p.release
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, data)
	p.tickets = append(p.tickets, logger.TicketFromContext(ctx))
	return p.err
}

func TestDispatcher_DoesNotBlockCaller(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := NewDispatcher(pub, discardLogger())

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), OTPMessage("ada@example.com", "0427", time.Now()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on the publisher")
	}

	close(pub.release)
	d.Wait()
	require.Len(t, pub.got, 1)
	assert.Equal(t, TemplateOTP, pub.got[0].Template)
}

func TestDispatcher_SurvivesRequestCancellation(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := NewDispatcher(pub, discardLogger())

	ctx, cancel := context.WithCancel(logger.WithTicket(context.Background(), "t-42"))
	d.Dispatch(ctx, WelcomeMessage("ada@example.com", "Ada"))
	cancel()
	close(pub.release)
	d.Wait()

	require.Len(t, pub.got, 1)
	assert.Equal(t, "t-42", pub.tickets[0])
}

func TestDispatcher_LogsPublishFailure(t *testing.T) {
	var buf bytes.Buffer
	pub := &blockingPublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, slog.New(slog.NewJSONHandler(&buf, nil)))

	d.Dispatch(context.Background(), WelcomeMessage("ada@example.com", "Ada"))
	d.Wait()

	assert.Contains(t, buf.String(), "failed to enqueue email")
	assert.Contains(t, buf.String(), "broker down")
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &fakeSES{}
	s := NewSESSender(client, "no-reply@example.com")

	err := s.Send(context.Background(), Message{Template: TemplateOTP, To: "ada@example.com", Subject: "Code", Body: "1234"})
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "no-reply@example.com", aws.ToString(client.input.Source))
	assert.Equal(t, []string{"ada@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "Code", aws.ToString(client.input.Message.Subject.Data))
	assert.Equal(t, "1234", aws.ToString(client.input.Message.Body.Text.Data))
	assert.Nil(t, client.input.Message.Body.Html)
}

func TestSESSender_WrapsError(t *testing.T) {
	s := NewSESSender(&fakeSES{err: errors.New("throttled")}, "no-reply@example.com")

	err := s.Send(context.Background(), Message{Template: TemplateWelcome, To: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ses send welcome email")
}

func TestLogSender_Send(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), OTPMessage("ada@example.com", "0427", time.Now())))
	assert.Contains(t, buf.String(), "0427")
	assert.Contains(t, buf.String(), `"template":"otp"`)
}

func TestForgetPasswordMessage_ContainsLink(t *testing.T) {
	msg := ForgetPasswordMessage("ada@example.com", "https://app.example.com/reset?code=abc", time.Now())
	assert.Equal(t, TemplateForgetPassword, msg.Template)
	assert.Contains(t, msg.Body, "https://app.example.com/reset?code=abc")
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

type recordingSender struct {
	sent []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func emailEvent(t *testing.T, data event.EmailRequestedData) *pkgkafka.Event {
	t.Helper()
	evt, err := pkgkafka.NewEvent(event.TopicEmailRequested, data.To, event.AggregateTypeEmail, event.SourceIdentityService, data)
	require.NoError(t, err)
	return evt
}

func TestWorker_Handle(t *testing.T) {
	sender := &recordingSender{}
	w := NewWorker(sender, discardLogger())

	err := w.Handle(context.Background(), emailEvent(t, event.EmailRequestedData{Template: TemplateOTP, To: "ada@example.com", Subject: "s", Body: "b"}))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ada@example.com", sender.sent[0].To)
}

func TestWorker_Handle_RejectsMissingRecipient(t *testing.T) {
	w := NewWorker(&recordingSender{}, discardLogger())

	err := w.Handle(context.Background(), emailEvent(t, event.EmailRequestedData{Template: TemplateOTP}))
	assert.Error(t, err)
}

func TestWorker_Handle_PropagatesSenderError(t *testing.T) {
	w := NewWorker(&recordingSender{err: errors.New("ses down")}, discardLogger())

	err := w.Handle(context.Background(), emailEvent(t, event.EmailRequestedData{To: "a@b.c"}))
	assert.Error(t, err)
}

func TestWorker_IdempotentDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sender := &recordingSender{}
	w := NewWorker(sender, discardLogger())
	store := pkgkafka.NewRedisIdempotencyStore(client, idempotencyPrefix, idempotencyTTL)
	handler := pkgkafka.IdempotentHandler(store, w.Handle, discardLogger())

	evt := emailEvent(t, event.EmailRequestedData{To: "ada@example.com"})
	require.NoError(t, handler(context.Background(), evt))
	require.NoError(t, handler(context.Background(), evt))

	assert.Len(t, sender.sent, 1)
}
