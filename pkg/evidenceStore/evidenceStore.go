// Package evidenceStore owns evidence records: it writes them to the primary
// persistence backend and, when that fails, to a fallback sink before
// reporting the failure.
package evidenceStore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"go.uber.org/zap"
)

// DuplicatePolicy decides whether a document id may be signed more than once
type DuplicatePolicy string

const (
	DuplicatePolicyAllow  DuplicatePolicy = "allow"
	DuplicatePolicyReject DuplicatePolicy = "reject"
)

// ParseDuplicatePolicy validates a policy name; empty means allow
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicatePolicyAllow:
		return DuplicatePolicyAllow, nil
	case DuplicatePolicyReject:
		return DuplicatePolicyReject, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (expected %q or %q)", s, DuplicatePolicyAllow, DuplicatePolicyReject)
	}
}

const defaultFallbackTimeout = 10 * time.Second

// PersistenceError reports a primary store failure. The original error is
// preserved; FallbackWritten tells whether the record reached the fallback sink.
type PersistenceError struct {
	Err             error
	FallbackWritten bool
	FallbackErr     error
}

func (e *PersistenceError) Error() string {
	if e.FallbackWritten {
		return fmt.Sprintf("primary evidence store failed (record written to fallback sink): %v", e.Err)
	}
	return fmt.Sprintf("primary evidence store failed (fallback not written): %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Config tunes an EvidenceStore
type Config struct {
	DuplicatePolicy DuplicatePolicy
	// FallbackTimeout bounds the fallback write independently of the caller's context
	FallbackTimeout time.Duration
}

// EvidenceStore writes and looks up evidence records
type EvidenceStore struct {
	primary  persistence.IEvidencePersistence
	fallback fallbackSink.IFallbackSink
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEvidenceStore wires a primary backend and an optional fallback sink
func NewEvidenceStore(
	primary persistence.IEvidencePersistence,
	fallback fallbackSink.IFallbackSink,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *EvidenceStore {
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = DuplicatePolicyAllow
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaultFallbackTimeout
	}
	return &EvidenceStore{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Policy returns the configured duplicate policy
func (s *EvidenceStore) Policy() DuplicatePolicy {
	return s.cfg.DuplicatePolicy
}

// Save persists record and returns its id.
// A duplicate rejection is returned as persistence.ErrDuplicateDocument and
// never reaches the fallback sink. Any other primary failure is returned as
// *PersistenceError after the fallback attempt.
func (s *EvidenceStore) Save(ctx context.Context, record *types.EvidenceRecord) (string, error) {
	if err := persistence.ValidateRecord(record); err != nil {
		return "", err
	}

	opts := persistence.SaveOptions{RequireUniqueDocumentID: s.cfg.DuplicatePolicy == DuplicatePolicyReject}
	err := s.primary.SaveEvidence(ctx, record, opts)
	if err == nil {
		return record.ID, nil
	}
	if errors.Is(err, persistence.ErrDuplicateDocument) {
		return "", err
	}

	s.logger.Sugar().Errorw("Primary evidence store write failed",
		"signature_id", record.ID,
		"document_id", record.DocumentID,
		"error", err,
	)

	fallbackErr := s.writeFallback(record)
	return "", &PersistenceError{
		Err:             err,
		FallbackWritten: fallbackErr == nil,
		FallbackErr:     fallbackErr,
	}
}

// writeFallback never panics. It runs on a fresh context so a cancelled
// request still gets its record exported.
func (s *EvidenceStore) writeFallback(record *types.EvidenceRecord) (err error) {
	if s.fallback == nil {
		s.metrics.IncrementFallbackWrite("unconfigured")
		return fmt.Errorf("no fallback sink configured")
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fallback sink panicked: %v", r)
		}
		if err != nil {
			s.metrics.IncrementFallbackWrite("error")
			s.logger.Sugar().Errorw("Fallback sink write failed",
				"signature_id", record.ID,
				"document_id", record.DocumentID,
				"error", err,
			)
			return
		}
		s.metrics.IncrementFallbackWrite("ok")
		s.logger.Sugar().Warnw("Evidence record written to fallback sink",
			"signature_id", record.ID,
			"document_id", record.DocumentID,
		)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FallbackTimeout)
	defer cancel()

	return s.fallback.Write(ctx, record.Clone())
}

// Find returns the first record matching term in storage order
func (s *EvidenceStore) Find(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	return s.primary.FindEvidence(ctx, term)
}

// FindAll returns every record matching term in storage order
func (s *EvidenceStore) FindAll(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	return s.primary.FindAllEvidence(ctx, term)
}

// Load returns the record with the given signature id
func (s *EvidenceStore) Load(ctx context.Context, id string) (*types.EvidenceRecord, error) {
	return s.primary.LoadEvidence(ctx, id)
}

// DocumentExists reports whether documentID already has a record
func (s *EvidenceStore) DocumentExists(ctx context.Context, documentID string) (bool, error) {
	return s.primary.ExistsDocument(ctx, documentID)
}

// HealthCheck reports primary store health
func (s *EvidenceStore) HealthCheck(ctx context.Context) error {
	return s.primary.HealthCheck(ctx)
}

// Close closes the primary store and the fallback sink
func (s *EvidenceStore) Close() error {
	var errs []error
	if err := s.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.fallback != nil {
		if err := s.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
