package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// StatusForKind maps a transaction error kind to an HTTP status
func StatusForKind(kind signing.ErrorKind) int {
	switch kind {
	case signing.KindInput:
		return http.StatusBadRequest
	case signing.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case signing.KindConflict:
		return http.StatusConflict
	case signing.KindAuth:
		return http.StatusUnauthorized
	case signing.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, state signing.State) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, State: string(state)})
}

// writeServiceError renders err. Internal details stay in the log.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var txErr *signing.TransactionError
	if !errors.As(err, &txErr) {
		s.logger.Sugar().Errorw("Unclassified service error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	status := StatusForKind(txErr.Kind)
	msg := txErr.Message
	if status == http.StatusBadRequest && txErr.Err != nil {
		msg = txErr.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed", "path", r.URL.Path, "kind", txErr.Kind, "state", txErr.State, "error", err)
	}
	writeError(w, status, msg, txErr.State)
}
