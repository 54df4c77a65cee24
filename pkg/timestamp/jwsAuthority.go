package timestamp

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// JWSProvider is the provider name recorded by JWSAuthority
const JWSProvider = "eigenx-esign-jws-tsa"

// JWSAuthority emits the authority signature as a compact HS256 JWS whose
// payload is the timestamp string.
type JWSAuthority struct {
	key   []byte
	clock Clock
}

// NewJWSAuthority creates a JWS-backed authority
func NewJWSAuthority(key []byte, clock Clock) (*JWSAuthority, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("timestamp authority key is not set")
	}
	if clock == nil {
		clock = time.Now
	}
	return &JWSAuthority{key: append([]byte{}, key...), clock: clock}, nil
}

func (a *JWSAuthority) Provider() string {
	return JWSProvider
}

func (a *JWSAuthority) Issue(ctx context.Context) (*types.TimestampData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := FormatTimestamp(a.clock())
	signed, err := jws.Sign([]byte(ts), jws.WithKey(jwa.HS256(), a.key))
	if err != nil {
		return nil, fmt.Errorf("failed to sign timestamp: %w", err)
	}
	return &types.TimestampData{
		Timestamp:          ts,
		AuthoritySignature: string(signed),
		Provider:           JWSProvider,
	}, nil
}

func (a *JWSAuthority) Verify(data *types.TimestampData) error {
	if data == nil {
		return fmt.Errorf("timestamp data is nil")
	}
	if data.Provider != JWSProvider {
		return fmt.Errorf("unexpected timestamp provider %q", data.Provider)
	}
	payload, err := jws.Verify([]byte(data.AuthoritySignature), jws.WithKey(jwa.HS256(), a.key))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthoritySignature, err)
	}
	if string(payload) != data.Timestamp {
		return ErrInvalidAuthoritySignature
	}
	return nil
}
