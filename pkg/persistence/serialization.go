package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// MarshalEvidenceRecord serializes an EvidenceRecord to JSON bytes.
// Every field is emitted; an unknown rubric size is written as null.
func MarshalEvidenceRecord(r *types.EvidenceRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot marshal nil EvidenceRecord")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal EvidenceRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalEvidenceRecord deserializes an EvidenceRecord from JSON bytes.
func UnmarshalEvidenceRecord(data []byte) (*types.EvidenceRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var r types.EvidenceRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to EvidenceRecord: %w", err)
	}

	return &r, nil
}

// ValidateRecord rejects records that cannot be stored
func ValidateRecord(r *types.EvidenceRecord) error {
	if r == nil {
		return fmt.Errorf("cannot save nil EvidenceRecord")
	}
	if r.ID == "" {
		return fmt.Errorf("evidence record id is required")
	}
	if r.DocumentID == "" {
		return fmt.Errorf("evidence record document id is required")
	}
	return nil
}
