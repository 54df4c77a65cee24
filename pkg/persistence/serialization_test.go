package persistence

import (
	"strings"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *types.EvidenceRecord {
	return &types.EvidenceRecord{
		ID:            "sig-1",
		DocumentID:    "doc-1",
		SignerID:      "52998224725",
		SignerName:    "Maria Souza",
		ContractTitle: "Contrato de Locação",
		FileMetadata: types.FileMetadata{
			Name:   "lease.pdf",
			Source: "template",
		},
		SignatureData: types.SignatureData{
			Hash:           strings.Repeat("a", 64),
			SignatureValue: strings.Repeat("b", 64),
			TimestampData: types.TimestampData{
				Timestamp:          "2024-05-01T15:30:45.123Z",
				AuthoritySignature: "c",
				Provider:           "eigenx-esign-mock-tsa",
			},
			AuthMethod:   "otp:email",
			VisualRubric: "sha256:" + strings.Repeat("d", 64),
		},
		SignedAt: time.Date(2024, 5, 1, 15, 30, 45, 0, time.UTC),
	}
}

// TestMarshalEvidenceRecord_NullRubricaSize tests that an unknown rubric size
// is written explicitly rather than omitted
func TestMarshalEvidenceRecord_NullRubricaSize(t *testing.T) {
	data, err := MarshalEvidenceRecord(sampleRecord())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rubricaSize":null`)

	restored, err := UnmarshalEvidenceRecord(data)
	require.NoError(t, err)
	assert.Nil(t, restored.FileMetadata.RubricaSize)
	assert.Equal(t, sampleRecord(), restored)
}

func TestMarshalEvidenceRecord_WithRubricaSize(t *testing.T) {
	rec := sampleRecord()
	size := int64(2048)
	rec.FileMetadata.RubricaSize = &size

	data, err := MarshalEvidenceRecord(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"rubricaSize":2048`)

	restored, err := UnmarshalEvidenceRecord(data)
	require.NoError(t, err)
	require.NotNil(t, restored.FileMetadata.RubricaSize)
	assert.Equal(t, int64(2048), *restored.FileMetadata.RubricaSize)
}

func TestMarshalEvidenceRecord_Nil(t *testing.T) {
	_, err := MarshalEvidenceRecord(nil)
	assert.Error(t, err)

	_, err = UnmarshalEvidenceRecord(nil)
	assert.Error(t, err)

	_, err = UnmarshalEvidenceRecord([]byte("{not json"))
	assert.Error(t, err)
}

func TestValidateRecord(t *testing.T) {
	assert.NoError(t, ValidateRecord(sampleRecord()))
	assert.Error(t, ValidateRecord(nil))

	noID := sampleRecord()
	noID.ID = ""
	assert.Error(t, ValidateRecord(noID))

	noDoc := sampleRecord()
	noDoc.DocumentID = ""
	assert.Error(t, ValidateRecord(noDoc))
}
