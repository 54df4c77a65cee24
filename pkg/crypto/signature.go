package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// MinSigningKeyLength is the smallest accepted HMAC key, in bytes
const MinSigningKeyLength = 32

// signatureMessageSeparator joins the signed fields. The order is fixed:
// documentHash | timestamp | signerId
const signatureMessageSeparator = "|"

var (
	ErrSigningKeyUnset    = errors.New("signing key is not set")
	ErrSigningKeyTooShort = errors.New("signing key is shorter than 32 bytes")
)

// SignatureEngine produces and verifies keyed signatures over evidence messages
type SignatureEngine struct {
	key []byte
}

// NewSignatureEngine creates a SignatureEngine. There is no default key: an
// empty or short key is rejected so the server fails closed at startup.
func NewSignatureEngine(key []byte) (*SignatureEngine, error) {
	if len(key) == 0 {
		return nil, ErrSigningKeyUnset
	}
	if len(key) < MinSigningKeyLength {
		return nil, ErrSigningKeyTooShort
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &SignatureEngine{key: k}, nil
}

// BuildSignatureMessage assembles the exact string covered by a signature
func BuildSignatureMessage(documentHash, timestamp, signerID string) string {
	return strings.Join([]string{documentHash, timestamp, signerID}, signatureMessageSeparator)
}

// Sign returns the hex HMAC-SHA256 of message
func (e *SignatureEngine) Sign(message string) string {
	return hex.EncodeToString(e.mac(message))
}

// Verify recomputes the signature over documentHash|timestamp|signerID and
// compares it in constant time.
func (e *SignatureEngine) Verify(documentHash, signatureValue, timestamp, signerID string) bool {
	provided, err := hex.DecodeString(signatureValue)
	if err != nil {
		return false
	}
	expected := e.mac(BuildSignatureMessage(documentHash, timestamp, signerID))
	return hmac.Equal(expected, provided)
}

func (e *SignatureEngine) mac(message string) []byte {
	m := hmac.New(sha256.New, e.key)
	_, _ = m.Write([]byte(message))
	return m.Sum(nil)
}
