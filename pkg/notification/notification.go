package notification

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
)

// Method selects the delivery channel for a message
type Method string

const (
	MethodEmail    Method = "Email"
	MethodSMS      Method = "SMS"
	MethodWhatsApp Method = "WhatsApp"
)

// ErrUnknownMethod is returned for a method outside the supported set
var ErrUnknownMethod = errors.New("unknown notification method")

// ErrInvalidRecipient is returned when a recipient does not fit its method
var ErrInvalidRecipient = errors.New("invalid recipient")

// PermanentError is a delivery failure that was not retried
type PermanentError = transport.PermanentError

// ParseMethod accepts the canonical names case-insensitively
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return MethodEmail, nil
	case "sms":
		return MethodSMS, nil
	case "whatsapp":
		return MethodWhatsApp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Methods lists every supported method
func Methods() []Method {
	return []Method{MethodEmail, MethodSMS, MethodWhatsApp}
}

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

// ValidateRecipient checks that recipient is an email address for Email and
// an international phone number for SMS and WhatsApp.
func ValidateRecipient(method Method, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRecipient)
	}

	switch method {
	case MethodEmail:
		addr, err := mail.ParseAddress(recipient)
		if err != nil || addr.Address != recipient {
			return fmt.Errorf("%w: %q is not an email address", ErrInvalidRecipient, recipient)
		}
	case MethodSMS, MethodWhatsApp:
		digits := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(recipient)
		if !phonePattern.MatchString(digits) {
			return fmt.Errorf("%w: %q is not a phone number", ErrInvalidRecipient, recipient)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return nil
}

// Channel delivers a message body to a recipient over method
type Channel interface {
	Send(ctx context.Context, method Method, recipient, body string) error
}

// Transport is one concrete delivery mechanism. A single Deliver call makes
// one attempt; retries are the dispatcher's concern.
type Transport interface {
	Deliver(ctx context.Context, recipient, subject, body string) error
	Name() string
}
