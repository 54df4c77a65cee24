package timestamp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// HMACProvider is the provider name recorded by HMACAuthority
const HMACProvider = "eigenx-esign-mock-tsa"

// HMACAuthority signs the timestamp string alone with an authority key
type HMACAuthority struct {
	key   []byte
	clock Clock
}

// NewHMACAuthority creates the default mock authority
func NewHMACAuthority(key []byte, clock Clock) (*HMACAuthority, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("timestamp authority key is not set")
	}
	if clock == nil {
		clock = time.Now
	}
	return &HMACAuthority{key: append([]byte{}, key...), clock: clock}, nil
}

func (a *HMACAuthority) Provider() string {
	return HMACProvider
}

func (a *HMACAuthority) Issue(ctx context.Context) (*types.TimestampData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := FormatTimestamp(a.clock())
	return &types.TimestampData{
		Timestamp:          ts,
		AuthoritySignature: hex.EncodeToString(a.mac(ts)),
		Provider:           HMACProvider,
	}, nil
}

func (a *HMACAuthority) Verify(data *types.TimestampData) error {
	if data == nil {
		return fmt.Errorf("timestamp data is nil")
	}
	if data.Provider != HMACProvider {
		return fmt.Errorf("unexpected timestamp provider %q", data.Provider)
	}
	sig, err := hex.DecodeString(data.AuthoritySignature)
	if err != nil {
		return ErrInvalidAuthoritySignature
	}
	if !hmac.Equal(a.mac(data.Timestamp), sig) {
		return ErrInvalidAuthoritySignature
	}
	return nil
}

func (a *HMACAuthority) mac(ts string) []byte {
	m := hmac.New(sha256.New, a.key)
	_, _ = m.Write([]byte(ts))
	return m.Sum(nil)
}
