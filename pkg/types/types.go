package types

import (
	"fmt"
	"time"
)

// DocumentSourceKind tags which variant of DocumentSource is populated
type DocumentSourceKind string

const (
	DocumentSourceTemplate DocumentSourceKind = "template"
	DocumentSourceUpload   DocumentSourceKind = "upload"
)

// UploadedDocument is a document supplied by the caller for a single transaction
type UploadedDocument struct {
	Bytes        []byte
	OriginalName string
}

// DocumentSource identifies the bytes being signed. Exactly one of TemplateID
// or Upload is meaningful, selected by Kind.
type DocumentSource struct {
	Kind       DocumentSourceKind
	TemplateID string
	Upload     *UploadedDocument
}

// TemplateSource builds a template-backed document source
func TemplateSource(templateID string) DocumentSource {
	return DocumentSource{Kind: DocumentSourceTemplate, TemplateID: templateID}
}

// UploadSource builds an upload-backed document source
func UploadSource(data []byte, originalName string) DocumentSource {
	return DocumentSource{
		Kind:   DocumentSourceUpload,
		Upload: &UploadedDocument{Bytes: data, OriginalName: originalName},
	}
}

// Validate checks that exactly one variant is populated
func (ds DocumentSource) Validate() error {
	switch ds.Kind {
	case DocumentSourceTemplate:
		if ds.TemplateID == "" {
			return fmt.Errorf("template source requires a template id")
		}
		if ds.Upload != nil {
			return fmt.Errorf("template source must not carry an upload")
		}
	case DocumentSourceUpload:
		if ds.Upload == nil || len(ds.Upload.Bytes) == 0 {
			return fmt.Errorf("upload source requires a non-empty document")
		}
		if ds.TemplateID != "" {
			return fmt.Errorf("upload source must not carry a template id")
		}
	default:
		return fmt.Errorf("unknown document source kind: %q", ds.Kind)
	}
	return nil
}

// TimestampData is the time assertion issued by a timestamp authority
type TimestampData struct {
	Timestamp          string `json:"timestamp"`
	AuthoritySignature string `json:"authoritySignature"`
	Provider           string `json:"provider"`
}

// FileMetadata describes the signed document. RubricaSize is an explicit
// optional marker and serializes as null when unknown.
type FileMetadata struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	RubricaSize *int64 `json:"rubricaSize"`
}

// SignatureData is the cryptographic core of an evidence record
type SignatureData struct {
	Hash           string        `json:"hash"`
	SignatureValue string        `json:"signatureValue"`
	TimestampData  TimestampData `json:"timestampData"`
	AuthMethod     string        `json:"authMethod"`
	VisualRubric   string        `json:"visualRubric"`
}

// EvidenceRecord is the immutable proof bundle for one completed signing transaction
type EvidenceRecord struct {
	ID            string        `json:"id"`
	DocumentID    string        `json:"documentId"`
	SignerID      string        `json:"signerId"`
	SignerName    string        `json:"signerName"`
	ContractTitle string        `json:"contractTitle"`
	FileMetadata  FileMetadata  `json:"fileMetadata"`
	SignatureData SignatureData `json:"signatureData"`
	SignedAt      time.Time     `json:"signedAt"`
}

// Clone returns a deep copy so stored records cannot be mutated through shared pointers
func (r *EvidenceRecord) Clone() *EvidenceRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.FileMetadata.RubricaSize != nil {
		size := *r.FileMetadata.RubricaSize
		out.FileMetadata.RubricaSize = &size
	}
	return &out
}

// Contact is an addressable recipient resolved by a directory
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
