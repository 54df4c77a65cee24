package persistence

import (
	"strings"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// SearchTerm is a lookup term prepared once for matching against many records
type SearchTerm struct {
	Raw        string
	Lower      string
	Normalized string
}

// NewSearchTerm trims term and precomputes its lowercase and digits-only forms
func NewSearchTerm(term string) SearchTerm {
	raw := strings.TrimSpace(term)
	return SearchTerm{
		Raw:        raw,
		Lower:      strings.ToLower(raw),
		Normalized: identity.Normalize(raw),
	}
}

// Empty reports whether the term can match anything at all
func (s SearchTerm) Empty() bool {
	return s.Raw == ""
}

// Matches applies the lookup rules: exact id, exact document id, exact
// normalized signer id, or case-insensitive substring of signer name or
// contract title.
func (s SearchTerm) Matches(r *types.EvidenceRecord) bool {
	if r == nil || s.Empty() {
		return false
	}
	if r.ID == s.Raw || r.DocumentID == s.Raw {
		return true
	}
	if s.Normalized != "" && r.SignerID == s.Normalized {
		return true
	}
	if strings.Contains(strings.ToLower(r.SignerName), s.Lower) {
		return true
	}
	return strings.Contains(strings.ToLower(r.ContractTitle), s.Lower)
}

// FilterEvidence returns the records matching term, preserving order.
// When firstOnly is set it stops after the first match.
func FilterEvidence(records []*types.EvidenceRecord, term string, firstOnly bool) []*types.EvidenceRecord {
	st := NewSearchTerm(term)
	out := make([]*types.EvidenceRecord, 0)
	if st.Empty() {
		return out
	}
	for _, r := range records {
		if st.Matches(r) {
			out = append(out, r)
			if firstOnly {
				break
			}
		}
	}
	return out
}
