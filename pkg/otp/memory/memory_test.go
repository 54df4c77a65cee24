package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSigner = "52998224725"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T) (*MemoryRegistry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	r := NewMemoryRegistry(otp.Config{TTL: 10 * time.Minute, Clock: clock.Now}, zap.NewNop())
	return r, clock
}

func TestMemoryRegistry_ValidateOnce(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	code, err := r.Issue(ctx, testSigner)
	require.NoError(t, err)

	res, err := r.Validate(ctx, testSigner, code.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// second attempt with the same code must find nothing
	res, err = r.Validate(ctx, testSigner, code.Code)
	require.NoError(t, err)
	assert.Equal(t, otp.NotFound, res)
}

func TestMemoryRegistry_ExpiredIsEvicted(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	code, err := r.Issue(ctx, testSigner)
	require.NoError(t, err)

	clock.Advance(10*time.Minute + time.Second)

	res, err := r.Validate(ctx, testSigner, code.Code)
	require.NoError(t, err)
	assert.Equal(t, otp.Expired, res)

	res, err = r.Validate(ctx, testSigner, code.Code)
	require.NoError(t, err)
	assert.Equal(t, otp.NotFound, res, "expired entry must have been evicted")
}

func TestMemoryRegistry_MismatchRetainsEntry(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	code, err := r.Issue(ctx, testSigner)
	require.NoError(t, err)

	wrong := "000000"
	if code.Code == wrong {
		wrong = "111111"
	}
	res, err := r.Validate(ctx, testSigner, wrong)
	require.NoError(t, err)
	assert.Equal(t, otp.Mismatch, res)

	res, err = r.Validate(ctx, testSigner, code.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid, "retry within TTL should succeed after a mismatch")
}

func TestMemoryRegistry_IssueOverwrites(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var first *otp.OneTimeCode
	var second *otp.OneTimeCode
	var err error
	// loop until the two codes differ so the assertion is meaningful
	for {
		first, err = r.Issue(ctx, testSigner)
		require.NoError(t, err)
		second, err = r.Issue(ctx, testSigner)
		require.NoError(t, err)
		if first.Code != second.Code {
			break
		}
	}

	res, err := r.Validate(ctx, testSigner, first.Code)
	require.NoError(t, err)
	assert.Equal(t, otp.Mismatch, res)

	res, err = r.Validate(ctx, testSigner, second.Code)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 0, r.Len())
}

func TestMemoryRegistry_NeverIssued(t *testing.T) {
	r, _ := newTestRegistry(t)

	res, err := r.Validate(context.Background(), testSigner, "123456")
	require.NoError(t, err)
	assert.Equal(t, otp.NotFound, res)
}

// TestMemoryRegistry_ConcurrentValidation tests that only one of many racing
// validations of the same code succeeds.
func TestMemoryRegistry_ConcurrentValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	code, err := r.Issue(ctx, testSigner)
	require.NoError(t, err)

	const goroutines = 50
	var wg sync.WaitGroup
	var successes atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := r.Validate(ctx, testSigner, code.Code)
			if err == nil && res.Valid {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestMemoryRegistry_Purge(t *testing.T) {
	r, clock := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Issue(ctx, testSigner)
	require.NoError(t, err)
	_, err = r.Issue(ctx, "11144477735")
	require.NoError(t, err)

	n, err := r.Purge(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = r.Purge(ctx, clock.Now().Add(10*time.Minute+otp.DefaultExpiredRetention+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, r.Len())
}
