// Package identity validates and canonicalizes signer identities.
//
// Identities follow the Brazilian CPF layout: eleven digits, the last two being
// mod-11 check digits. The canonical form is digits only; punctuation is
// accepted on ingress and stripped before any comparison or persistence.
package identity

import (
	"fmt"
	"strings"

	"github.com/paemuri/brdoc"
)

const identityLength = 11

// Validator is the capability consumed by the signing transaction
type Validator interface {
	IsValid(id string) bool
	Normalize(id string) string
}

// CPFValidator implements Validator with the CPF checksum from brdoc
type CPFValidator struct{}

// NewCPFValidator returns the default identity validator
func NewCPFValidator() *CPFValidator {
	return &CPFValidator{}
}

func (CPFValidator) IsValid(id string) bool {
	return IsValid(id)
}

func (CPFValidator) Normalize(id string) string {
	return Normalize(id)
}

// Normalize strips everything but ASCII digits
func Normalize(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsValid reports whether id, after normalization, is a checksum-valid identity.
// Surrounding whitespace and separators other than the CPF punctuation are
// tolerated because the check runs on the normalized digits.
func IsValid(id string) bool {
	digits := Normalize(id)
	if len(digits) != identityLength {
		return false
	}
	return brdoc.IsCPF(digits)
}

// Format renders a normalized identity as ddd.ddd.ddd-dd. Inputs that do not
// normalize to eleven digits are returned normalized but unpunctuated.
func Format(id string) string {
	digits := Normalize(id)
	if len(digits) != identityLength {
		return digits
	}
	return fmt.Sprintf("%s.%s.%s-%s", digits[0:3], digits[3:6], digits[6:9], digits[9:11])
}
