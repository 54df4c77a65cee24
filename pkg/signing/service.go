// Package signing runs the OTP-gated document signing transaction.
//
// A transaction moves Validating -> SourceResolved -> OtpVerified -> Signed ->
// Persisted -> (NotifySent) -> Complete, or stops in one of RejectedInput,
// OtpRejected or PersistenceFailed. Once a record is persisted the
// transaction has succeeded; notification runs afterwards and its failures
// are only logged.
package signing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/crypto"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/directory"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/evidenceStore"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/identity"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/notification"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/otp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/templates"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/timestamp"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// AuthMethodOTP is recorded in every evidence record produced here
	AuthMethodOTP = "OTP"

	DefaultMaxDocumentBytes int64 = 20 << 20
	DefaultMaxRubricBytes   int64 = 2 << 20
	DefaultNotifyTimeout          = 30 * time.Second

	otpSentMessage = "verification code sent"
)

// EvidenceStore is the subset of evidenceStore.EvidenceStore the service uses
type EvidenceStore interface {
	Save(ctx context.Context, record *types.EvidenceRecord) (string, error)
	Find(ctx context.Context, term string) (*types.EvidenceRecord, error)
	FindAll(ctx context.Context, term string) ([]*types.EvidenceRecord, error)
	DocumentExists(ctx context.Context, documentID string) (bool, error)
	Policy() evidenceStore.DuplicatePolicy
}

// methodSupporter is implemented by channels that only serve some methods
type methodSupporter interface {
	Supports(method notification.Method) bool
}

// Config tunes the service
type Config struct {
	MaxDocumentBytes int64
	MaxRubricBytes   int64
	NotifyTimeout    time.Duration
	Clock            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if c.MaxRubricBytes <= 0 {
		c.MaxRubricBytes = DefaultMaxRubricBytes
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Dependencies are the collaborators of a Service. Users and Documents may be
// nil, in which case no post-signing notification is sent.
type Dependencies struct {
	Identity  identity.Validator
	Registry  otp.Registry
	Channel   notification.Channel
	Templates templates.Repository
	Users     directory.UserDirectory
	Documents directory.DocumentDirectory
	Store     EvidenceStore
	Hasher    crypto.Hasher
	Signer    *crypto.SignatureEngine
	Authority timestamp.Authority
}

func (d Dependencies) validate() error {
	var missing []string
	if d.Identity == nil {
		missing = append(missing, "identity validator")
	}
	if d.Registry == nil {
		missing = append(missing, "otp registry")
	}
	if d.Channel == nil {
		missing = append(missing, "notification channel")
	}
	if d.Templates == nil {
		missing = append(missing, "template repository")
	}
	if d.Store == nil {
		missing = append(missing, "evidence store")
	}
	if d.Signer == nil {
		missing = append(missing, "signature engine")
	}
	if d.Authority == nil {
		missing = append(missing, "timestamp authority")
	}
	if len(missing) > 0 {
		return fmt.Errorf("signing service missing dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Service runs signing transactions
type Service struct {
	deps    Dependencies
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	newID   func() string

	notifications sync.WaitGroup
}

// NewService validates the dependencies and builds a Service
func NewService(deps Dependencies, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Hasher == nil {
		deps.Hasher = crypto.SHA256Hasher{}
	}
	return &Service{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
		newID:   uuid.NewString,
	}, nil
}

// RequestOTPInput is a request for a one-time code
type RequestOTPInput struct {
	SignerID  string
	Method    string
	Recipient string
}

// RequestOTPResult acknowledges a delivered code
type RequestOTPResult struct {
	Message   string
	ExpiresAt time.Time
}

// RequestOTP issues a code for the signer and hands it to the notification
// channel. A failed delivery leaves the issued code to expire.
func (s *Service) RequestOTP(ctx context.Context, in RequestOTPInput) (*RequestOTPResult, error) {
	sugar := s.logger.Sugar()

	signerID := s.deps.Identity.Normalize(in.SignerID)
	recipient := strings.TrimSpace(in.Recipient)

	var missing []string
	if signerID == "" {
		missing = append(missing, "signerId")
	}
	if strings.TrimSpace(in.Method) == "" {
		missing = append(missing, "method")
	}
	if recipient == "" {
		missing = append(missing, "recipient")
	}
	if len(missing) > 0 {
		return nil, otpInputError(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if !s.deps.Identity.IsValid(signerID) {
		return nil, otpInputError("invalid signerId", nil)
	}

	method, err := notification.ParseMethod(in.Method)
	if err != nil {
		return nil, otpInputError("invalid method", err)
	}
	if ms, ok := s.deps.Channel.(methodSupporter); ok && !ms.Supports(method) {
		return nil, otpInputError(fmt.Sprintf("method %s is not configured", method), nil)
	}
	if err := notification.ValidateRecipient(method, recipient); err != nil {
		return nil, otpInputError("invalid recipient", err)
	}

	code, err := s.deps.Registry.Issue(ctx, signerID)
	if err != nil {
		s.metrics.IncrementOTPIssued(string(method), "issue_failed")
		sugar.Errorw("Failed to issue one-time code", "signer_id", signerID, "error", err)
		return nil, &TransactionError{Kind: KindInternal, Message: "failed to issue verification code", Err: err}
	}

	minutes := int(code.ExpiresAt.Sub(code.IssuedAt).Round(time.Minute) / time.Minute)
	body := fmt.Sprintf("Seu código de verificação é %s. Ele expira em %d minutos.", code.Code, minutes)

	if err := s.deps.Channel.Send(ctx, method, recipient, body); err != nil {
		s.metrics.IncrementOTPIssued(string(method), "delivery_failed")
		sugar.Warnw("Failed to deliver one-time code",
			"signer_id", signerID,
			"method", method,
			"permanent", isPermanent(err),
			"error", err,
		)
		return nil, &TransactionError{Kind: KindDelivery, Message: "failed to deliver verification code", Err: err}
	}

	s.metrics.IncrementOTPIssued(string(method), "delivered")
	sugar.Infow("One-time code delivered", "signer_id", signerID, "method", method, "expires_at", code.ExpiresAt)

	return &RequestOTPResult{Message: otpSentMessage, ExpiresAt: code.ExpiresAt}, nil
}

func otpInputError(msg string, err error) *TransactionError {
	return &TransactionError{Kind: KindInput, Message: msg, Err: err}
}

func isPermanent(err error) bool {
	var perm *notification.PermanentError
	return errors.As(err, &perm)
}

// SignDocumentInput carries everything a signing transaction needs
type SignDocumentInput struct {
	SignerID      string
	DocumentID    string
	SignerName    string
	ContractTitle string
	OTP           string
	Source        types.DocumentSource
	Rubric        []byte
}

// SignDocumentResult describes a completed transaction
type SignDocumentResult struct {
	DocumentID        string
	SignatureID       string
	SignerIDFormatted string
	State             State
	Record            *types.EvidenceRecord
}

// resolvedDocument is the outcome of SourceResolved
type resolvedDocument struct {
	bytes  []byte
	name   string
	source types.DocumentSourceKind
}

// SignDocument runs one signing transaction to completion or to a terminal failure
func (s *Service) SignDocument(ctx context.Context, in SignDocumentInput) (*SignDocumentResult, error) {
	started := s.cfg.Clock()
	tx := newTransition()

	res, err := s.signDocument(ctx, tx, in)
	if err != nil {
		var txErr *TransactionError
		if errors.As(err, &txErr) && txErr.State == "" {
			txErr.State = tx.state
		}
		s.metrics.IncrementTransaction(string(tx.state))
		s.logger.Sugar().Warnw("Signing transaction failed",
			"document_id", in.DocumentID,
			"state", tx.state,
			"kind", KindOf(err),
			"error", err,
		)
		return nil, err
	}

	s.metrics.IncrementTransaction(string(tx.state))
	s.metrics.ObserveSigningLatency(s.cfg.Clock().Sub(started))
	return res, nil
}

func (s *Service) signDocument(ctx context.Context, tx *transition, in SignDocumentInput) (*SignDocumentResult, error) {
	sugar := s.logger.Sugar()

	// Validating
	signerID := s.deps.Identity.Normalize(in.SignerID)
	documentID := strings.TrimSpace(in.DocumentID)
	submitted := strings.TrimSpace(in.OTP)

	if verr := s.validateSignInput(signerID, documentID, submitted, in); verr != nil {
		return nil, s.reject(tx, verr)
	}

	if s.deps.Store.Policy() == evidenceStore.DuplicatePolicyReject {
		exists, err := s.deps.Store.DocumentExists(ctx, documentID)
		if err != nil {
			return nil, internalError(tx.state, "failed to check document id", err)
		}
		if exists {
			return nil, s.reject(tx, &TransactionError{
				Kind:    KindConflict,
				Message: fmt.Sprintf("document %s has already been signed", documentID),
				Err:     persistence.ErrDuplicateDocument,
			})
		}
	}

	doc, err := s.resolveSource(ctx, in.Source)
	if err != nil {
		return nil, s.reject(tx, inputError("failed to resolve document source", err))
	}
	if err := tx.advance(StateSourceResolved); err != nil {
		return nil, internalError(tx.state, "illegal state transition", err)
	}

	// OtpVerified
	result, err := s.deps.Registry.Validate(ctx, signerID, submitted)
	if err != nil {
		s.metrics.IncrementOTPValidation("error")
		return nil, internalError(tx.state, "failed to validate verification code", err)
	}
	if !result.Valid {
		s.metrics.IncrementOTPValidation(string(result.Reason))
		if aerr := tx.advance(StateOtpRejected); aerr != nil {
			return nil, internalError(tx.state, "illegal state transition", aerr)
		}
		sugar.Infow("One-time code rejected", "signer_id", signerID, "reason", result.Reason)
		return nil, &TransactionError{
			Kind:    KindAuth,
			State:   StateOtpRejected,
			Message: fmt.Sprintf("verification code rejected: %s", result.Reason),
		}
	}
	s.metrics.IncrementOTPValidation("valid")
	if err := tx.advance(StateOtpVerified); err != nil {
		return nil, internalError(tx.state, "illegal state transition", err)
	}

	// Signed
	documentHash := s.deps.Hasher.Hash(doc.bytes)
	rubricProof := crypto.RubricProof(s.deps.Hasher, in.Rubric)
	ts, err := s.deps.Authority.Issue(ctx)
	if err != nil {
		return nil, internalError(tx.state, "failed to obtain timestamp", err)
	}
	signature := s.deps.Signer.Sign(crypto.BuildSignatureMessage(documentHash, ts.Timestamp, signerID))
	if err := tx.advance(StateSigned); err != nil {
		return nil, internalError(tx.state, "illegal state transition", err)
	}

	rubricSize := int64(len(in.Rubric))
	record := &types.EvidenceRecord{
		ID:            s.newID(),
		DocumentID:    documentID,
		SignerID:      signerID,
		SignerName:    strings.TrimSpace(in.SignerName),
		ContractTitle: strings.TrimSpace(in.ContractTitle),
		FileMetadata: types.FileMetadata{
			Name:        doc.name,
			Source:      string(doc.source),
			RubricaSize: &rubricSize,
		},
		SignatureData: types.SignatureData{
			Hash:           documentHash,
			SignatureValue: signature,
			TimestampData:  *ts,
			AuthMethod:     AuthMethodOTP,
			VisualRubric:   rubricProof,
		},
		SignedAt: s.cfg.Clock().UTC(),
	}

	// Persisted
	if _, err := s.deps.Store.Save(ctx, record); err != nil {
		if errors.Is(err, persistence.ErrDuplicateDocument) {
			return nil, s.reject(tx, &TransactionError{
				Kind:    KindConflict,
				Message: fmt.Sprintf("document %s has already been signed", documentID),
				Err:     err,
			})
		}
		if aerr := tx.advance(StatePersistenceFailed); aerr != nil {
			return nil, internalError(tx.state, "illegal state transition", aerr)
		}
		return nil, &TransactionError{
			Kind:    KindPersistence,
			State:   StatePersistenceFailed,
			Message: "failed to persist evidence record",
			Err:     err,
		}
	}
	if err := tx.advance(StatePersisted); err != nil {
		return nil, internalError(tx.state, "illegal state transition", err)
	}

	sugar.Infow("Evidence record persisted",
		"signature_id", record.ID,
		"document_id", record.DocumentID,
		"signer_id", record.SignerID,
		"source", record.FileMetadata.Source,
	)

	// NotifySent
	if s.notify(record) {
		if err := tx.advance(StateNotifySent); err != nil {
			return nil, internalError(tx.state, "illegal state transition", err)
		}
	}
	if err := tx.advance(StateComplete); err != nil {
		return nil, internalError(tx.state, "illegal state transition", err)
	}

	return &SignDocumentResult{
		DocumentID:        record.DocumentID,
		SignatureID:       record.ID,
		SignerIDFormatted: identity.Format(record.SignerID),
		State:             tx.state,
		Record:            record.Clone(),
	}, nil
}

// reject moves the transaction to RejectedInput and stamps the error with it
func (s *Service) reject(tx *transition, txErr *TransactionError) error {
	if err := tx.advance(StateRejectedInput); err != nil {
		return internalError(tx.state, "illegal state transition", err)
	}
	txErr.State = StateRejectedInput
	return txErr
}

func (s *Service) validateSignInput(signerID, documentID, submitted string, in SignDocumentInput) *TransactionError {
	var missing []string
	if documentID == "" {
		missing = append(missing, "documentId")
	}
	if submitted == "" {
		missing = append(missing, "otp")
	}
	if signerID == "" {
		missing = append(missing, "signerId")
	}
	if len(in.Rubric) == 0 {
		missing = append(missing, "rubric")
	}
	if len(missing) > 0 {
		return inputError(fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")), nil)
	}
	if !s.deps.Identity.IsValid(signerID) {
		return inputError("invalid signerId", nil)
	}
	if err := in.Source.Validate(); err != nil {
		return inputError("invalid document source", err)
	}
	if in.Source.Kind == types.DocumentSourceUpload && int64(len(in.Source.Upload.Bytes)) > s.cfg.MaxDocumentBytes {
		return &TransactionError{
			Kind:    KindPayloadTooLarge,
			Message: fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxDocumentBytes),
		}
	}
	if int64(len(in.Rubric)) > s.cfg.MaxRubricBytes {
		return &TransactionError{
			Kind:    KindPayloadTooLarge,
			Message: fmt.Sprintf("rubric exceeds %d bytes", s.cfg.MaxRubricBytes),
		}
	}
	return nil
}

func (s *Service) resolveSource(ctx context.Context, src types.DocumentSource) (*resolvedDocument, error) {
	switch src.Kind {
	case types.DocumentSourceTemplate:
		tpl, err := s.deps.Templates.Load(ctx, src.TemplateID)
		if err != nil {
			return nil, err
		}
		return &resolvedDocument{bytes: tpl.Bytes, name: tpl.FileName, source: types.DocumentSourceTemplate}, nil
	case types.DocumentSourceUpload:
		name := src.Upload.OriginalName
		if name == "" {
			name = "document"
		}
		return &resolvedDocument{bytes: src.Upload.Bytes, name: name, source: types.DocumentSourceUpload}, nil
	}
	return nil, fmt.Errorf("unknown document source kind: %q", src.Kind)
}

// GetEvidence returns the first record matching term
func (s *Service) GetEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &TransactionError{Kind: KindInput, Message: "search term is required"}
	}
	rec, err := s.deps.Store.Find(ctx, term)
	if err != nil {
		return nil, lookupError(term, err)
	}
	return rec, nil
}

// ListEvidence returns every record matching term in storage order
func (s *Service) ListEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &TransactionError{Kind: KindInput, Message: "search term is required"}
	}
	recs, err := s.deps.Store.FindAll(ctx, term)
	if err != nil {
		return nil, lookupError(term, err)
	}
	if len(recs) == 0 {
		return nil, lookupError(term, persistence.ErrNotFound)
	}
	return recs, nil
}

func lookupError(term string, err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return &TransactionError{Kind: KindNotFound, Message: fmt.Sprintf("no evidence matches %q", term), Err: err}
	}
	return &TransactionError{Kind: KindInternal, Message: "failed to look up evidence", Err: err}
}

// VerifyEvidence recomputes the signature of the first record matching term
// and checks its timestamp authority signature
func (s *Service) VerifyEvidence(ctx context.Context, term string) (*types.VerifyEvidenceResponse, error) {
	rec, err := s.GetEvidence(ctx, term)
	if err != nil {
		return nil, err
	}

	sd := rec.SignatureData
	sigOK := s.deps.Signer.Verify(sd.Hash, sd.SignatureValue, sd.TimestampData.Timestamp, rec.SignerID)
	tsErr := s.deps.Authority.Verify(&sd.TimestampData)
	if tsErr != nil {
		s.logger.Sugar().Warnw("Timestamp verification failed",
			"signature_id", rec.ID,
			"provider", sd.TimestampData.Provider,
			"error", tsErr,
		)
	}

	return &types.VerifyEvidenceResponse{
		SignatureID:    rec.ID,
		DocumentID:     rec.DocumentID,
		Valid:          sigOK && tsErr == nil,
		SignatureValid: sigOK,
		TimestampValid: tsErr == nil,
	}, nil
}

// Wait blocks until in-flight notifications finish
func (s *Service) Wait() {
	s.notifications.Wait()
}
