package main

import (
	"context"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/config"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewChannel_WarnsForMethodsWithoutTransport(t *testing.T) {
	core, observed := observer.New(zap.WarnLevel)
	l := zap.New(core)

	cfg := config.NotificationConfig{
		SMS:     config.GatewayConfig{URL: "https://sms.example.com/send"},
		Timeout: time.Second,
	}
	ch := newChannel(cfg, l, metrics.New())
	require.NotNil(t, ch)

	warnings := observed.FilterMessage("No delivery transport configured; one-time codes for this method are not delivered").AllUntimed()
	require.Len(t, warnings, 2)

	methods := []interface{}{warnings[0].ContextMap()["method"], warnings[1].ContextMap()["method"]}
	assert.ElementsMatch(t, []interface{}{string(notification.MethodEmail), string(notification.MethodWhatsApp)}, methods)
	assert.Equal(t, false, warnings[0].ContextMap()["dev_log_codes"])
}

func TestNewChannel_DevLogCodes(t *testing.T) {
	core, observed := observer.New(zap.DebugLevel)
	l := zap.New(core)

	ch := newChannel(config.NotificationConfig{Timeout: time.Second, DevLogCodes: true}, l, metrics.New())
	require.NoError(t, ch.Send(context.Background(), notification.MethodEmail, "a@b.co", "code 654321"))

	assert.Equal(t, 1, observed.FilterField(zap.String("body", "code 654321")).Len())
}
