package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixRecord      = "esign:evidence:rec:"
	keyPrefixDocument    = "esign:evidence:doc:"
	keyOrder             = "esign:evidence:order"
	keySchemaVersion     = "esign:metadata:schema_version"
	currentSchemaVersion = "v1"

	// scanBatchSize is how many records are fetched per MGET while scanning
	scanBatchSize = 100
)

// insertScript stores a record and its indexes in one atomic step.
// KEYS[1] = record key, KEYS[2] = order list, KEYS[3] = document index set
// ARGV[1] = id, ARGV[2] = record JSON, ARGV[3] = "1" to require a new document id
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
if ARGV[3] == '1' and redis.call('SCARD', KEYS[3]) > 0 then
  return 'duplicate'
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
return 'ok'
`)

// RedisPersistence stores evidence records in Redis.
// Suitable for deployments where several server replicas share one store.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IEvidencePersistence = (*RedisPersistence)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key for multi-tenant setups
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// Client exposes the underlying connection so other components (the
// one-time code registry) can share it.
func (r *RedisPersistence) Client() *redis.Client {
	return r.client
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if errors.Is(err, redis.Nil) {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveEvidence runs the insert script
func (r *RedisPersistence) SaveEvidence(ctx context.Context, record *types.EvidenceRecord, opts persistence.SaveOptions) error {
	if err := persistence.ValidateRecord(record); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalEvidenceRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal EvidenceRecord: %w", err)
	}

	unique := "0"
	if opts.RequireUniqueDocumentID {
		unique = "1"
	}

	keys := []string{
		r.prefixKey(keyPrefixRecord + record.ID),
		r.prefixKey(keyOrder),
		r.prefixKey(keyPrefixDocument + record.DocumentID),
	}
	outcome, err := insertScript.Run(ctx, r.client, keys, record.ID, data, unique).Text()
	if err != nil {
		return fmt.Errorf("failed to save EvidenceRecord: %w", err)
	}

	switch outcome {
	case "ok":
		return nil
	case "duplicate":
		return persistence.ErrDuplicateDocument
	case "exists":
		return fmt.Errorf("evidence record %s already exists", record.ID)
	default:
		return fmt.Errorf("unexpected insert outcome from redis: %q", outcome)
	}
}

// LoadEvidence retrieves a record by id
func (r *RedisPersistence) LoadEvidence(ctx context.Context, id string) (*types.EvidenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	data, err := r.client.Get(ctx, r.prefixKey(keyPrefixRecord+id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EvidenceRecord: %w", err)
	}

	return persistence.UnmarshalEvidenceRecord(data)
}

// FindEvidence returns the first record in insertion order matching term
func (r *RedisPersistence) FindEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	found, err := r.scan(ctx, persistence.NewSearchTerm(term), true)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, persistence.ErrNotFound
	}
	return found[0], nil
}

// FindAllEvidence returns every record matching term
func (r *RedisPersistence) FindAllEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	return r.scan(ctx, persistence.NewSearchTerm(term), false)
}

// ListEvidence returns all records in insertion order
func (r *RedisPersistence) ListEvidence(ctx context.Context) ([]*types.EvidenceRecord, error) {
	return r.scan(ctx, persistence.SearchTerm{}, false)
}

// scan walks the order list in batches. A zero SearchTerm keeps every record.
func (r *RedisPersistence) scan(ctx context.Context, st persistence.SearchTerm, firstOnly bool) ([]*types.EvidenceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	keepAll := st.Empty()
	records := make([]*types.EvidenceRecord, 0)
	orderKey := r.prefixKey(keyOrder)

	for start := int64(0); ; start += scanBatchSize {
		ids, err := r.client.LRange(ctx, orderKey, start, start+scanBatchSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list EvidenceRecord ids: %w", err)
		}
		if len(ids) == 0 {
			return records, nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = r.prefixKey(keyPrefixRecord + id)
		}

		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch EvidenceRecords: %w", err)
		}

		for i, val := range values {
			data, ok := val.(string)
			if !ok {
				r.logger.Sugar().Warnw("Missing or unexpected value for EvidenceRecord", "key", keys[i])
				continue
			}

			record, err := persistence.UnmarshalEvidenceRecord([]byte(data))
			if err != nil {
				r.logger.Sugar().Warnw("Failed to unmarshal EvidenceRecord, skipping", "key", keys[i], "error", err)
				continue
			}

			if keepAll || st.Matches(record) {
				records = append(records, record)
				if firstOnly && !keepAll {
					return records, nil
				}
			}
		}

		if len(ids) < scanBatchSize {
			return records, nil
		}
	}
}

// ExistsDocument reports whether documentID has been recorded
func (r *RedisPersistence) ExistsDocument(ctx context.Context, documentID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, persistence.ErrClosed
	}

	n, err := r.client.SCard(ctx, r.prefixKey(keyPrefixDocument+documentID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check document index: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck verifies Redis is reachable
func (r *RedisPersistence) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
