// Package timestamp issues time assertions that are bound into evidence signatures.
//
// Authorities here are stand-ins for an RFC 3161 service: they keep the same
// contract (a timestamp plus a verifiable signature over it) so a real TSA can
// be dropped in without touching the signing transaction.
package timestamp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"golang.org/x/crypto/hkdf"
)

// TimestampLayout is ISO-8601 in UTC with millisecond precision
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const authorityKeyInfo = "eigenx-esign/timestamp-authority"

var ErrInvalidAuthoritySignature = errors.New("invalid timestamp authority signature")

// Authority issues and verifies timestamp assertions
type Authority interface {
	Issue(ctx context.Context) (*types.TimestampData, error)
	Verify(data *types.TimestampData) error
	Provider() string
}

// Clock returns the current time; injected for tests
type Clock func() time.Time

// FormatTimestamp renders t in the canonical evidence layout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// DeriveAuthorityKey derives a 32-byte authority key from the signing key so
// deployments that configure a single secret still use distinct keys.
func DeriveAuthorityKey(signingKey []byte) ([]byte, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("cannot derive authority key from empty signing key")
	}
	r := hkdf.New(sha256.New, signingKey, nil, []byte(authorityKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive authority key: %w", err)
	}
	return key, nil
}
