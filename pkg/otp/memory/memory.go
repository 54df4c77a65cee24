package memory

import (
	"context"
	"crypto/subtle"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	"go.uber.org/zap"
)

// numShards spreads signer ids over independent locks so validations for
// different signers never contend.
const numShards = 64

type shard struct {
	mu      sync.Mutex
	entries map[string]*otp.OneTimeCode
}

// MemoryRegistry is a process-local otp.Registry.
// Each signer maps to exactly one shard; holding the shard lock across the
// read, compare, and delete makes validation atomic per key.
type MemoryRegistry struct {
	shards [numShards]shard
	cfg    otp.Config
	logger *zap.Logger
}

var _ otp.Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry(cfg otp.Config, logger *zap.Logger) *MemoryRegistry {
	r := &MemoryRegistry{
		cfg:    cfg.WithDefaults(),
		logger: logger,
	}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*otp.OneTimeCode)
	}
	return r
}

func (r *MemoryRegistry) shardFor(signerID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(signerID))
	return &r.shards[h.Sum32()%numShards]
}

// Issue creates a code for signerID, overwriting any previous entry
func (r *MemoryRegistry) Issue(ctx context.Context, signerID string) (*otp.OneTimeCode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, err := otp.NewCode(signerID, r.cfg.Clock(), r.cfg.TTL)
	if err != nil {
		return nil, err
	}

	s := r.shardFor(signerID)
	s.mu.Lock()
	stored := *code
	s.entries[signerID] = &stored
	s.mu.Unlock()

	return code, nil
}

// Validate checks and, on success or expiry, evicts the entry for signerID
func (r *MemoryRegistry) Validate(ctx context.Context, signerID, submitted string) (otp.Result, error) {
	if err := ctx.Err(); err != nil {
		return otp.Result{}, err
	}

	s := r.shardFor(signerID)
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[signerID]
	if !ok {
		return otp.NotFound, nil
	}

	if entry.Expired(r.cfg.Clock()) {
		delete(s.entries, signerID)
		return otp.Expired, nil
	}

	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(submitted)) != 1 {
		return otp.Mismatch, nil
	}

	delete(s.entries, signerID)
	return otp.Valid, nil
}

// Purge drops entries whose expiry plus retention has passed at now
func (r *MemoryRegistry) Purge(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range r.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		s := &r.shards[i]
		s.mu.Lock()
		for id, entry := range s.entries {
			if now.After(entry.ExpiresAt.Add(r.cfg.ExpiredRetention)) {
				delete(s.entries, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// RunJanitor purges stale entries every interval until ctx is cancelled
func (r *MemoryRegistry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := r.Purge(ctx, r.cfg.Clock())
			if err != nil {
				return
			}
			if n > 0 && r.logger != nil {
				r.logger.Sugar().Debugw("Purged stale one-time codes", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len returns the number of stored entries
func (r *MemoryRegistry) Len() int {
	total := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
