package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport stands in for a method with no configured delivery backend.
// Nothing reaches the recipient. Bodies may contain one-time codes and are
// only logged, at debug level, when WithBodies is set.
type LogTransport struct {
	name      string
	logger    *zap.Logger
	logBodies bool
}

// NewLogTransport creates a LogTransport reporting itself as name
func NewLogTransport(name string, logger *zap.Logger) *LogTransport {
	return &LogTransport{name: name, logger: logger}
}

// WithBodies makes the transport log message bodies at debug level. Intended
// for local development only.
func (l *LogTransport) WithBodies() *LogTransport {
	l.logBodies = true
	return l
}

func (l *LogTransport) Deliver(ctx context.Context, recipient, subject, body string) error {
	l.logger.Sugar().Warnw("Notification not delivered; no transport configured",
		"transport", l.name,
		"recipient", recipient,
		"subject", subject,
		"body_length", len(body),
	)
	if l.logBodies {
		l.logger.Sugar().Debugw("Undelivered notification body",
			"transport", l.name,
			"recipient", recipient,
			"body", body,
		)
	}
	return ctx.Err()
}

func (l *LogTransport) Name() string {
	return l.name
}
