package persistence

import (
	"context"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// IEvidencePersistence defines the interface for durably storing evidence records.
// All implementations must be thread-safe; signing transactions run concurrently.
//
// Records are immutable once written. Implementations never update or delete
// a stored record, and they return deep copies so callers cannot mutate state.
//
// Storage order is insertion order. Find operations walk records in that order.
type IEvidencePersistence interface {
	// SaveEvidence writes a record atomically: either the whole record becomes
	// visible to readers or nothing does.
	// With opts.RequireUniqueDocumentID set, the write fails with
	// ErrDuplicateDocument if any record already carries the same DocumentID.
	// The uniqueness check and the insert happen in the same atomic step.
	SaveEvidence(ctx context.Context, record *types.EvidenceRecord, opts SaveOptions) error

	// LoadEvidence retrieves a record by its signature id.
	// Returns ErrNotFound if no such record exists.
	LoadEvidence(ctx context.Context, id string) (*types.EvidenceRecord, error)

	// FindEvidence returns the first record in storage order matching term.
	// Returns ErrNotFound if nothing matches.
	FindEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error)

	// FindAllEvidence returns every record matching term in storage order.
	// Returns an empty slice if nothing matches.
	FindAllEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error)

	// ExistsDocument reports whether any record carries documentID
	ExistsDocument(ctx context.Context, documentID string) (bool, error)

	// ListEvidence returns all records in storage order
	ListEvidence(ctx context.Context) ([]*types.EvidenceRecord, error)

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return ErrClosed.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck(ctx context.Context) error
}
