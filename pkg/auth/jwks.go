package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.uber.org/zap"
)

// JWKSVerifier checks tokens against an identity provider's published key set
type JWKSVerifier struct {
	keys   jwk.Set
	cfg    Config
	logger *zap.Logger
}

var _ Verifier = (*JWKSVerifier)(nil)

// NewJWKSVerifier fetches the key set at url and keeps it refreshed
func NewJWKSVerifier(ctx context.Context, url string, refreshInterval time.Duration, cfg Config, logger *zap.Logger) (*JWKSVerifier, error) {
	logger.Sugar().Debugw("Creating JWK cache", "jwk_url", url, "refresh_interval", refreshInterval)
	keys, err := NewJWKCache(ctx, url, refreshInterval)
	if err != nil {
		return nil, err
	}
	return NewJWKSVerifierFromSet(keys, cfg, logger), nil
}

// NewJWKSVerifierFromSet verifies against a fixed key set
func NewJWKSVerifierFromSet(keys jwk.Set, cfg Config, logger *zap.Logger) *JWKSVerifier {
	return &JWKSVerifier{keys: keys, cfg: cfg, logger: logger}
}

// NewJWKCache registers url with a refreshing cache and fetches it once
func NewJWKCache(ctx context.Context, url string, refreshInterval time.Duration) (jwk.Set, error) {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk cache: %w", err)
	}

	if err := cache.Register(ctx, url, jwk.WithConstantInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register jwk location: %w", err)
	}

	if _, err := cache.Refresh(ctx, url); err != nil {
		return nil, fmt.Errorf("failed to fetch on startup: %w", err)
	}

	return cache.CachedSet(url)
}

func (v *JWKSVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	keys, err := v.keysForToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	opts := append(v.cfg.parseOptions(), jwt.WithKeySet(keys))
	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromToken(parsed)
}

// keysForToken narrows the key set to keys whose algorithm matches the
// token header, since some providers publish one kid under several algorithms
func (v *JWKSVerifier) keysForToken(token string) (jwk.Set, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWS message: %w", err)
	}
	if len(msg.Signatures()) == 0 {
		return nil, fmt.Errorf("token has no signatures")
	}
	header := msg.Signatures()[0].ProtectedHeaders()

	tokenAlg, ok := header.Algorithm()
	if !ok {
		return nil, fmt.Errorf("token does not specify an algorithm")
	}
	if kid, ok := header.KeyID(); !ok || kid == "" {
		return nil, fmt.Errorf("token does not specify a key ID")
	}

	filtered := jwk.NewSet()
	for i := 0; i < v.keys.Len(); i++ {
		key, ok := v.keys.Key(i)
		if !ok {
			continue
		}
		if keyAlg, ok := key.Algorithm(); ok && keyAlg.String() == tokenAlg.String() {
			_ = filtered.AddKey(key)
		}
	}

	if filtered.Len() == 0 {
		return nil, fmt.Errorf("no keys found in JWKS matching algorithm %s", tokenAlg)
	}
	v.logger.Sugar().Debugw("Filtered JWKS", "original_count", v.keys.Len(), "filtered_count", filtered.Len())
	return filtered, nil
}
