package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/auth"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/go-chi/chi/v5"
)

// handleRequestOTP handles POST /v1/otp
func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req types.RequestOTPRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, multipartOverheadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse request: %v", err), "")
		return
	}

	if !s.tokenMatchesSigner(r, req.SignerID) {
		writeError(w, http.StatusUnauthorized, "token is not bound to this signerId", "")
		return
	}

	res, err := s.svc.RequestOTP(r.Context(), signing.RequestOTPInput{
		SignerID:  req.SignerID,
		Method:    req.Method,
		Recipient: req.Recipient,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.RequestOTPResponse{Message: res.Message, ExpiresAt: res.ExpiresAt})
}

// handleSignDocument handles POST /v1/documents/sign
func (s *Server) handleSignDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes+multipartOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", signing.StateRejectedInput)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse multipart form: %v", err), signing.StateRejectedInput)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	signerID := r.FormValue(types.FormFieldSignerID)
	if !s.tokenMatchesSigner(r, signerID) {
		writeError(w, http.StatusUnauthorized, "token is not bound to this signerId", "")
		return
	}

	document, documentName, err := readFormFile(r.MultipartForm, types.FormFileDocument)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), signing.StateRejectedInput)
		return
	}
	rubric, _, err := readFormFile(r.MultipartForm, types.FormFileRubric)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), signing.StateRejectedInput)
		return
	}

	// conflicting or absent sources are rejected by DocumentSource.Validate
	var source types.DocumentSource
	templateID := r.FormValue(types.FormFieldTemplateID)
	switch {
	case templateID != "":
		source = types.TemplateSource(templateID)
		if document != nil {
			source.Upload = &types.UploadedDocument{Bytes: document, OriginalName: documentName}
		}
	case document != nil:
		source = types.UploadSource(document, documentName)
	}

	res, err := s.svc.SignDocument(r.Context(), signing.SignDocumentInput{
		SignerID:      signerID,
		DocumentID:    r.FormValue(types.FormFieldDocumentID),
		SignerName:    r.FormValue(types.FormFieldSignerName),
		ContractTitle: r.FormValue(types.FormFieldContractTitle),
		OTP:           r.FormValue(types.FormFieldOTP),
		Source:        source,
		Rubric:        rubric,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.SignDocumentResponse{
		DocumentID:        res.DocumentID,
		SignatureID:       res.SignatureID,
		SignerIDFormatted: res.SignerIDFormatted,
	})
}

// readFormFile returns nil bytes when the part is absent
func readFormFile(form *multipart.Form, field string) ([]byte, string, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, "", nil
	}
	if len(headers) > 1 {
		return nil, "", fmt.Errorf("only one %s file is accepted", field)
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return data, headers[0].Filename, nil
}

// tokenMatchesSigner enforces the signer_id claim when the token carries one
func (s *Server) tokenMatchesSigner(r *http.Request, signerID string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || claims.SignerID == "" {
		return true
	}
	return identity.Normalize(claims.SignerID) == identity.Normalize(signerID)
}

// handleGetEvidence handles GET /v1/evidence/{term}
func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	term := chi.URLParam(r, "term")

	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	if all {
		recs, err := s.svc.ListEvidence(r.Context(), term)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	rec, err := s.svc.GetEvidence(r.Context(), term)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleVerifyEvidence handles GET /v1/evidence/{term}/verify
func (s *Server) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.VerifyEvidence(r.Context(), chi.URLParam(r, "term"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Sugar().Warnw("Health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
