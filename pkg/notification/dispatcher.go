package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultSubject is used for every message
const DefaultSubject = "Assinatura eletrônica"

// Route binds a method to its transport and delivery policy
type Route struct {
	Transport Transport
	Retry     transport.RetryConfig
	// Limiter caps deliveries per method; nil disables limiting
	Limiter *rate.Limiter
	// Timeout bounds the whole delivery including retries
	Timeout time.Duration
}

// Dispatcher is a Channel that routes each method to its own transport
type Dispatcher struct {
	routes  map[Method]*Route
	subject string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ Channel = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with no routes
func NewDispatcher(logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		routes:  make(map[Method]*Route),
		subject: DefaultSubject,
		logger:  logger,
		metrics: m,
	}
}

// Register binds method to route, replacing any previous binding
func (d *Dispatcher) Register(method Method, route *Route) {
	d.routes[method] = route
}

// Supports reports whether a transport is bound to method
func (d *Dispatcher) Supports(method Method) bool {
	_, ok := d.routes[method]
	return ok
}

// Send delivers body, retrying transient failures per the route's policy.
// Permanent failures return immediately as *PermanentError.
func (d *Dispatcher) Send(ctx context.Context, method Method, recipient, body string) error {
	route, ok := d.routes[method]
	if !ok {
		return fmt.Errorf("%w: no transport for %q", ErrUnknownMethod, method)
	}

	if route.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, route.Timeout)
		defer cancel()
	}

	attempts := 0
	err := route.Retry.Do(ctx, func(ctx context.Context) error {
		if route.Limiter != nil {
			if err := route.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attempts++
		return route.Transport.Deliver(ctx, recipient, d.subject, body)
	})

	if err != nil {
		d.metrics.IncrementNotification(string(method), "error")
		d.logger.Sugar().Warnw("Notification delivery failed",
			"method", method,
			"transport", route.Transport.Name(),
			"attempts", attempts,
			"permanent", transport.IsPermanent(err),
			"error", err,
		)
		return fmt.Errorf("delivery via %s failed: %w", route.Transport.Name(), err)
	}

	d.metrics.IncrementNotification(string(method), "ok")
	d.logger.Sugar().Debugw("Notification delivered",
		"method", method,
		"transport", route.Transport.Name(),
		"attempts", attempts,
	)
	return nil
}
