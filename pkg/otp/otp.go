// Package otp issues and single-use-validates short-lived numeric codes keyed
// by signer identity.
//
// Registries guarantee that validate-then-evict is atomic per signer: two
// concurrent validations of the same code can never both succeed.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// DefaultTTL is how long an issued code stays valid
	DefaultTTL = 10 * time.Minute

	// DefaultExpiredRetention keeps expired entries long enough for a late
	// validation to observe Expired rather than NotFound.
	DefaultExpiredRetention = time.Hour

	codeMin = 100000
	codeMax = 999999
)

// Reason explains a validation outcome
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonExpired  Reason = "expired"
	ReasonMismatch Reason = "mismatch"
)

// OneTimeCode is an issued code
type OneTimeCode struct {
	SignerID  string    `json:"signerId"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the code is past its expiry at now
func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Result is the outcome of a validation attempt
type Result struct {
	Valid  bool
	Reason Reason
}

func validResult() Result           { return Result{Valid: true, Reason: ReasonNone} }
func invalidResult(r Reason) Result { return Result{Valid: false, Reason: r} }

// Valid, NotFound, Expired and Mismatch are the only results a registry returns
var (
	Valid    = validResult()
	NotFound = invalidResult(ReasonNotFound)
	Expired  = invalidResult(ReasonExpired)
	Mismatch = invalidResult(ReasonMismatch)
)

// Registry issues and validates one-time codes.
// Errors are reserved for infrastructure failures; a wrong, missing, or
// expired code is reported through Result.
type Registry interface {
	// Issue creates a fresh code for signerID, replacing any prior one
	Issue(ctx context.Context, signerID string) (*OneTimeCode, error)

	// Validate checks submitted against the active code for signerID.
	// Success and expiry evict the entry; a mismatch retains it.
	Validate(ctx context.Context, signerID, submitted string) (Result, error)

	// Purge removes entries whose expiry plus retention passed before now and
	// returns how many were removed
	Purge(ctx context.Context, now time.Time) (int, error)
}

// Config is shared by registry implementations
type Config struct {
	TTL              time.Duration
	ExpiredRetention time.Duration
	Clock            func() time.Time
}

// WithDefaults fills zero fields
func (c Config) WithDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ExpiredRetention <= 0 {
		c.ExpiredRetention = DefaultExpiredRetention
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// GenerateCode returns a uniformly random six digit code in [100000, 999999]
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate one-time code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// NewCode builds a OneTimeCode for signerID issued at now
func NewCode(signerID string, now time.Time, ttl time.Duration) (*OneTimeCode, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	return &OneTimeCode{
		SignerID:  signerID,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}
