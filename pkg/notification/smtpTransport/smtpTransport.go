package smtpTransport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
)

// SMTPConfig holds the relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StartTLS requires the relay to upgrade the connection. A relay that
	// does not offer STARTTLS is a permanent delivery failure.
	StartTLS bool
}

// SMTPTransport delivers email through an SMTP relay
type SMTPTransport struct {
	cfg SMTPConfig
	now func() time.Time
}

var _ notification.Transport = (*SMTPTransport)(nil)

// NewSMTPTransport validates cfg
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host cannot be empty")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp sender address cannot be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPTransport{cfg: cfg, now: time.Now}, nil
}

func (s *SMTPTransport) Name() string {
	return "smtp"
}

// Deliver sends one message. Rejections, TLS and auth failures are
// permanent; network errors and 4xx replies may be retried.
func (s *SMTPTransport) Deliver(ctx context.Context, recipient, subject, body string) error {
	msg, err := s.buildMessage(recipient, subject, body)
	if err != nil {
		return transport.Permanent(err)
	}

	client, err := s.newClient()
	if err != nil {
		return transport.Permanent(fmt.Errorf("failed to configure smtp client: %w", err))
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return classify(fmt.Errorf("smtp delivery to %s:%d failed: %w", s.cfg.Host, s.cfg.Port, err))
	}
	return nil
}

func (s *SMTPTransport) newClient() (*mail.Client, error) {
	policy := mail.NoTLS
	if s.cfg.StartTLS {
		policy = mail.TLSMandatory
	}
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(policy),
		mail.WithTLSConfig(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTPTransport) buildMessage(recipient, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(s.now())
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// classify keeps network failures and 4xx replies retryable and marks the rest
// permanent: 5xx replies, a relay that refuses the mandatory STARTTLS upgrade,
// certificate and auth failures.
func classify(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return err
		}
		return &transport.PermanentError{StatusCode: replyCode(err), Err: err}
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code < 500 {
			return err
		}
		return &transport.PermanentError{StatusCode: tpErr.Code, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return &transport.PermanentError{Err: err}
}

func replyCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}
