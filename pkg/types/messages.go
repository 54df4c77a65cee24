package types

import "time"

// Multipart form field names for POST /v1/documents/sign
const (
	FormFieldSignerID      = "signerId"
	FormFieldDocumentID    = "documentId"
	FormFieldSignerName    = "signerName"
	FormFieldContractTitle = "contractTitle"
	FormFieldOTP           = "otp"
	FormFieldTemplateID    = "templateId"
	FormFileDocument       = "document"
	FormFileRubric         = "rubric"
)

// RequestOTPRequest is the body of POST /v1/otp
type RequestOTPRequest struct {
	SignerID  string `json:"signerId"`
	Method    string `json:"method"`
	Recipient string `json:"recipient"`
}

// RequestOTPResponse acknowledges that a code was issued and handed to the channel
type RequestOTPResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SignDocumentResponse is returned once an evidence record is persisted
type SignDocumentResponse struct {
	DocumentID        string `json:"documentId"`
	SignatureID       string `json:"signatureId"`
	SignerIDFormatted string `json:"signerIdFormatted"`
}

// VerifyEvidenceResponse reports the recomputed checks for a stored record
type VerifyEvidenceResponse struct {
	SignatureID    string `json:"signatureId"`
	DocumentID     string `json:"documentId"`
	Valid          bool   `json:"valid"`
	SignatureValid bool   `json:"signatureValid"`
	TimestampValid bool   `json:"timestampValid"`
}

// ErrorResponse is the JSON error envelope for every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}
