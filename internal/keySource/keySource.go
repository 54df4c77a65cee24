package keySource

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
)

// Keys are the secrets the signing and timestamp engines are built from
type Keys struct {
	SigningKey   []byte
	AuthorityKey []byte
}

// IKeySource resolves the service secrets at startup
type IKeySource interface {
	Resolve(ctx context.Context) (*Keys, error)
}

// StaticKeySource returns keys that were handed to it directly, typically from the environment
type StaticKeySource struct {
	signingKey   []byte
	authorityKey []byte
}

func NewStaticKeySource(signingKey, authorityKey string) *StaticKeySource {
	s := &StaticKeySource{signingKey: []byte(signingKey)}
	if authorityKey != "" {
		s.authorityKey = []byte(authorityKey)
	}
	return s
}

func (s *StaticKeySource) Resolve(_ context.Context) (*Keys, error) {
	if len(s.signingKey) == 0 {
		return nil, fmt.Errorf("signing key is not configured")
	}
	return Complete(s.signingKey, s.authorityKey)
}

// Complete fills in the authority key by derivation when none was provided
func Complete(signingKey, authorityKey []byte) (*Keys, error) {
	if len(authorityKey) == 0 {
		derived, err := timestamp.DeriveAuthorityKey(signingKey)
		if err != nil {
			return nil, fmt.Errorf("failed to derive authority key: %w", err)
		}
		authorityKey = derived
	}
	return &Keys{SigningKey: signingKey, AuthorityKey: authorityKey}, nil
}
