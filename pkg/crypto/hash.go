package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// RubricProofPrefix marks a rubric receipt proof in evidence records
const RubricProofPrefix = "sha256:"

// Hasher computes content digests. It exists so the signing transaction can be
// exercised with an injected digest in tests; production always uses SHA256Hasher.
type Hasher interface {
	Hash(data []byte) string
}

// SHA256Hasher is the default Hasher
type SHA256Hasher struct{}

// Hash returns the lowercase hex SHA-256 digest of data
func (SHA256Hasher) Hash(data []byte) string {
	return HashBytes(data)
}

// HashBytes returns the lowercase hex SHA-256 digest of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RubricProof returns the receipt marker retained for a rubric image in place of the raw bytes
func RubricProof(h Hasher, rubric []byte) string {
	return RubricProofPrefix + h.Hash(rubric)
}
