package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

type scriptedTransport struct {
	mu       sync.Mutex
	failures []error
	calls    int
	last     string
}

func (s *scriptedTransport) Deliver(_ context.Context, recipient, _, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = recipient + ":" + body
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	return nil
}

func (s *scriptedTransport) Name() string { return "scripted" }

var quickRetry = transport.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffMultiple: 2}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{"Email": MethodEmail, "email": MethodEmail, "SMS": MethodSMS, "whatsApp": MethodWhatsApp} {
		got, err := ParseMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseMethod("pigeon")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestValidateRecipient(t *testing.T) {
	assert.NoError(t, ValidateRecipient(MethodEmail, "maria@example.com"))
	assert.ErrorIs(t, ValidateRecipient(MethodEmail, "not-an-email"), ErrInvalidRecipient)
	assert.ErrorIs(t, ValidateRecipient(MethodEmail, "Maria <maria@example.com>"), ErrInvalidRecipient)
	assert.NoError(t, ValidateRecipient(MethodSMS, "+55 11 91234-5678"))
	assert.NoError(t, ValidateRecipient(MethodWhatsApp, "5511912345678"))
	assert.ErrorIs(t, ValidateRecipient(MethodSMS, "12"), ErrInvalidRecipient)
	assert.ErrorIs(t, ValidateRecipient(MethodSMS, ""), ErrInvalidRecipient)
	assert.ErrorIs(t, ValidateRecipient(Method("Fax"), "123"), ErrUnknownMethod)
}

func TestDispatcher_RetriesTransient(t *testing.T) {
	tr := &scriptedTransport{failures: []error{errors.New("timeout"), errors.New("timeout")}}
	d := NewDispatcher(zap.NewNop(), nil)
	d.Register(MethodSMS, &Route{Transport: tr, Retry: quickRetry})

	require.NoError(t, d.Send(context.Background(), MethodSMS, "+5511912345678", "hello"))
	assert.Equal(t, 3, tr.calls)
	assert.Equal(t, "+5511912345678:hello", tr.last)
}

func TestDispatcher_PermanentNotRetried(t *testing.T) {
	tr := &scriptedTransport{failures: []error{&PermanentError{StatusCode: 400, Err: errors.New("bad number")}}}
	d := NewDispatcher(zap.NewNop(), nil)
	d.Register(MethodWhatsApp, &Route{Transport: tr, Retry: quickRetry})

	err := d.Send(context.Background(), MethodWhatsApp, "+5511912345678", "hello")
	require.Error(t, err)

	var pe *PermanentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 400, pe.StatusCode)
	assert.Equal(t, 1, tr.calls)
}

func TestDispatcher_UnroutedMethod(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), nil)
	err := d.Send(context.Background(), MethodEmail, "a@b.co", "x")
	assert.ErrorIs(t, err, ErrUnknownMethod)
	assert.False(t, d.Supports(MethodEmail))
}

func TestDispatcher_LimiterRespectsContext(t *testing.T) {
	tr := &scriptedTransport{}
	d := NewDispatcher(zap.NewNop(), nil)
	// one token per hour with the single burst token already spent
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, limiter.Allow())
	d.Register(MethodEmail, &Route{Transport: tr, Retry: transport.NoRetry, Limiter: limiter, Timeout: 20 * time.Millisecond})

	err := d.Send(context.Background(), MethodEmail, "a@b.co", "x")
	require.Error(t, err)
	assert.Equal(t, 0, tr.calls)
}

func TestLogTransport(t *testing.T) {
	lt := NewLogTransport("dev-email", zap.NewNop())
	assert.Equal(t, "dev-email", lt.Name())
	assert.NoError(t, lt.Deliver(context.Background(), "a@b.co", "s", "123456"))
}

func TestLogTransport_WarnsWithoutBody(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	lt := NewLogTransport("email-log", zap.New(core))

	require.NoError(t, lt.Deliver(context.Background(), "a@b.co", "s", "code 123456"))

	entries := observed.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "email-log", fields["transport"])
	assert.NotContains(t, fields, "body")
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "123456")
		}
	}
}

func TestLogTransport_WithBodiesLogsAtDebug(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	lt := NewLogTransport("sms-log", zap.New(core)).WithBodies()

	require.NoError(t, lt.Deliver(context.Background(), "+5511999990000", "", "code 123456"))

	bodies := observed.FilterField(zap.String("body", "code 123456")).AllUntimed()
	require.Len(t, bodies, 1)
	assert.Equal(t, zap.DebugLevel, bodies[0].Level)

	core, observed = observer.New(zap.InfoLevel)
	lt = NewLogTransport("sms-log", zap.New(core)).WithBodies()
	require.NoError(t, lt.Deliver(context.Background(), "+5511999990000", "", "code 123456"))
	assert.Zero(t, observed.FilterField(zap.String("body", "code 123456")).Len())
}
