package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefixCode = "esign:otp:"

// storedCode is the JSON document kept under each signer key.
// Times are unix milliseconds so the Lua script can compare them.
type storedCode struct {
	SignerID    string `json:"signerId"`
	Code        string `json:"code"`
	IssuedAtMs  int64  `json:"issuedAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

// validateScript reads, compares and evicts in one server-side step.
// KEYS[1] = code key, ARGV[1] = submitted code, ARGV[2] = now in ms
var validateScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return 'not_found'
end
local entry = cjson.decode(raw)
if tonumber(ARGV[2]) > tonumber(entry.expiresAtMs) then
  redis.call('DEL', KEYS[1])
  return 'expired'
end
if entry.code ~= ARGV[1] then
  return 'mismatch'
end
redis.call('DEL', KEYS[1])
return 'valid'
`)

// RedisRegistry is an otp.Registry shared by every server replica through Redis
type RedisRegistry struct {
	client    redis.UniversalClient
	cfg       otp.Config
	keyPrefix string
	logger    *zap.Logger
}

var _ otp.Registry = (*RedisRegistry)(nil)

// NewRedisRegistry wraps an existing client. keyPrefix namespaces keys for
// multi-tenant deployments and may be empty.
func NewRedisRegistry(client redis.UniversalClient, keyPrefix string, cfg otp.Config, logger *zap.Logger) (*RedisRegistry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisRegistry{
		client:    client,
		cfg:       cfg.WithDefaults(),
		keyPrefix: keyPrefix,
		logger:    logger,
	}, nil
}

func (r *RedisRegistry) key(signerID string) string {
	return r.keyPrefix + keyPrefixCode + signerID
}

// Issue stores a fresh code. The key outlives the code by ExpiredRetention
// so a late validation still reports Expired.
func (r *RedisRegistry) Issue(ctx context.Context, signerID string) (*otp.OneTimeCode, error) {
	code, err := otp.NewCode(signerID, r.cfg.Clock(), r.cfg.TTL)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(storedCode{
		SignerID:    code.SignerID,
		Code:        code.Code,
		IssuedAtMs:  code.IssuedAt.UnixMilli(),
		ExpiresAtMs: code.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal one-time code: %w", err)
	}

	if err := r.client.Set(ctx, r.key(signerID), data, r.cfg.TTL+r.cfg.ExpiredRetention).Err(); err != nil {
		return nil, fmt.Errorf("failed to store one-time code: %w", err)
	}
	return code, nil
}

// Validate runs the compare-and-delete script for signerID
func (r *RedisRegistry) Validate(ctx context.Context, signerID, submitted string) (otp.Result, error) {
	now := r.cfg.Clock().UnixMilli()

	outcome, err := validateScript.Run(ctx, r.client, []string{r.key(signerID)}, submitted, now).Text()
	if err != nil {
		return otp.Result{}, fmt.Errorf("failed to validate one-time code: %w", err)
	}

	switch outcome {
	case "valid":
		return otp.Valid, nil
	case "expired":
		return otp.Expired, nil
	case "mismatch":
		return otp.Mismatch, nil
	case "not_found":
		return otp.NotFound, nil
	default:
		return otp.Result{}, fmt.Errorf("unexpected validation outcome from redis: %q", outcome)
	}
}

// Purge is a no-op; key TTLs already drop entries once retention passes.
func (r *RedisRegistry) Purge(ctx context.Context, now time.Time) (int, error) {
	return 0, ctx.Err()
}
