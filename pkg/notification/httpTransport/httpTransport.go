package httpTransport

import (
	"context"
	"fmt"
	"strings"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
)

// HTTPConfig describes a JSON messaging gateway (SMS or WhatsApp provider)
type HTTPConfig struct {
	// Name identifies the transport in logs, e.g. "sms-gateway"
	Name string
	// URL receives POST {"channel","to","body"}
	URL string
	// Token is sent as a bearer credential when set
	Token string
	// Channel is the provider channel value, e.g. "sms" or "whatsapp"
	Channel string
}

// gatewayMessage is the request body posted to the gateway
type gatewayMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

// HTTPTransport delivers short messages through an HTTP gateway
type HTTPTransport struct {
	cfg    HTTPConfig
	client *transport.Client
}

var _ notification.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport validates cfg and binds it to client
func NewHTTPTransport(cfg HTTPConfig, client *transport.Client) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("gateway url cannot be empty")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("gateway url must be http or https: %q", cfg.URL)
	}
	if client == nil {
		return nil, fmt.Errorf("transport client cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "http-gateway"
	}
	return &HTTPTransport{cfg: cfg, client: client}, nil
}

func (h *HTTPTransport) Name() string {
	return h.cfg.Name
}

// Deliver posts one message. The subject is dropped; short-message channels have none.
func (h *HTTPTransport) Deliver(ctx context.Context, recipient, _ string, body string) error {
	headers := map[string]string{}
	if h.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + h.cfg.Token
	}
	return h.client.PostJSON(ctx, h.cfg.URL, headers, gatewayMessage{
		Channel: h.cfg.Channel,
		To:      recipient,
		Body:    body,
	})
}
