// Package auth verifies the bearer tokens presented by signers.
//
// Tokens are issued by an external identity provider. Two verifiers are
// provided: a shared-secret HS256 verifier and a JWKS verifier that keeps the
// provider's key set cached and refreshed in the background.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// SignerIDClaim is the private claim carrying the signer identity, when present
const SignerIDClaim = "signer_id"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Claims are the verified facts extracted from a token
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	SignerID  string
	ExpiresAt time.Time
}

// Verifier validates a raw bearer token
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Config holds the registered-claim checks shared by every verifier
type Config struct {
	Issuer         string
	Audience       string
	AcceptableSkew time.Duration
}

func (c Config) parseOptions() []jwt.ParseOption {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if c.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.Audience))
	}
	if c.AcceptableSkew > 0 {
		opts = append(opts, jwt.WithAcceptableSkew(c.AcceptableSkew))
	}
	return opts
}

func claimsFromToken(token jwt.Token) (*Claims, error) {
	c := &Claims{}
	sub, ok := token.Subject()
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: subject claim not found", ErrInvalidToken)
	}
	c.Subject = sub
	if iss, ok := token.Issuer(); ok {
		c.Issuer = iss
	}
	if aud, ok := token.Audience(); ok {
		c.Audience = aud
	}
	if exp, ok := token.Expiration(); ok {
		c.ExpiresAt = exp
	}
	var signerID string
	if err := token.Get(SignerIDClaim, &signerID); err == nil {
		c.SignerID = signerID
	}
	return c, nil
}

// HMACVerifier checks HS256 tokens signed with a shared secret
type HMACVerifier struct {
	secret []byte
	cfg    Config
}

var _ Verifier = (*HMACVerifier)(nil)

// NewHMACVerifier creates a shared-secret verifier
func NewHMACVerifier(secret []byte, cfg Config) (*HMACVerifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("jwt secret is not set")
	}
	return &HMACVerifier{secret: append([]byte{}, secret...), cfg: cfg}, nil
}

func (v *HMACVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	opts := append(v.cfg.parseOptions(), jwt.WithKey(jwa.HS256(), v.secret))
	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claimsFromToken(parsed)
}

// IssueHMACToken mints an HS256 token for subject. Used by the client CLI
// against development servers and by tests.
func IssueHMACToken(secret []byte, subject, signerID string, cfg Config, ttl time.Duration) (string, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if cfg.Issuer != "" {
		b = b.Issuer(cfg.Issuer)
	}
	if cfg.Audience != "" {
		b = b.Audience([]string{cfg.Audience})
	}
	if signerID != "" {
		b = b.Claim(SignerIDClaim, signerID)
	}
	token, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}
