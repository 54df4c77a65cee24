package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{
	MaxAttempts:     4,
	InitialBackoff:  time.Millisecond,
	MaxBackoff:      5 * time.Millisecond,
	BackoffMultiple: 2,
}

func TestRetryConfig_RetriesTransient(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryConfig_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errors.New("rejected"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestRetryConfig_GivesUp(t *testing.T) {
	calls := 0
	err := fastRetry.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "still down")
}

func TestRetryConfig_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour}

	calls := 0
	err := slow.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClient_PostJSON_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusAccepted, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusUnauthorized, true, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusRequestTimeout, true, false},
		{http.StatusBadGateway, true, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{Timeout: time.Second})
			err := c.PostJSON(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"}, map[string]string{"a": "b"})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

// TestClient_RetryAgainstFlakyServer tests Client and RetryConfig together
func TestClient_RetryAgainstFlakyServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Timeout: time.Second, RatePerSecond: 1000, Burst: 10})
	err := fastRetry.Do(context.Background(), func(ctx context.Context) error {
		return c.PostJSON(ctx, srv.URL, nil, struct{}{})
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}
