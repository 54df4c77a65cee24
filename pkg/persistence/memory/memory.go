package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"go.uber.org/zap"
)

// MemoryPersistence is an in-memory implementation of IEvidencePersistence.
// This implementation is intended for TESTING and local development.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Records in insertion order
	records []*types.EvidenceRecord

	// Signature id -> position in records
	byID map[string]int

	// Document id -> number of records
	docCount map[string]int

	// failErr, when set, is returned by every write
	failErr error

	closed bool
}

var _ persistence.IEvidencePersistence = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory persistence layer.
// Logs a loud warning since nothing survives a restart.
func NewMemoryPersistence(logger *zap.Logger) *MemoryPersistence {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory evidence persistence - ALL RECORDS WILL BE LOST ON RESTART",
			"hint", "set ESIGN_PERSISTENCE_TYPE=badger, redis or postgres for production")
	}

	return &MemoryPersistence{
		byID:     make(map[string]int),
		docCount: make(map[string]int),
	}
}

// FailWrites makes every subsequent SaveEvidence return err. Passing nil restores
// normal behaviour. Used to exercise the fallback path.
func (m *MemoryPersistence) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// SaveEvidence appends a record
func (m *MemoryPersistence) SaveEvidence(ctx context.Context, record *types.EvidenceRecord, opts persistence.SaveOptions) error {
	if err := persistence.ValidateRecord(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failErr != nil {
		return m.failErr
	}

	if _, exists := m.byID[record.ID]; exists {
		return fmt.Errorf("evidence record %s already exists", record.ID)
	}
	if opts.RequireUniqueDocumentID && m.docCount[record.DocumentID] > 0 {
		return persistence.ErrDuplicateDocument
	}

	m.byID[record.ID] = len(m.records)
	m.records = append(m.records, record.Clone())
	m.docCount[record.DocumentID]++

	return nil
}

// LoadEvidence retrieves a record by id
func (m *MemoryPersistence) LoadEvidence(ctx context.Context, id string) (*types.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	idx, exists := m.byID[id]
	if !exists {
		return nil, persistence.ErrNotFound
	}

	return m.records[idx].Clone(), nil
}

// FindEvidence returns the first matching record
func (m *MemoryPersistence) FindEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	found := persistence.FilterEvidence(m.records, term, true)
	if len(found) == 0 {
		return nil, persistence.ErrNotFound
	}

	return found[0].Clone(), nil
}

// FindAllEvidence returns every matching record
func (m *MemoryPersistence) FindAllEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return cloneAll(persistence.FilterEvidence(m.records, term, false)), nil
}

// ExistsDocument reports whether documentID has been recorded
func (m *MemoryPersistence) ExistsDocument(ctx context.Context, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, persistence.ErrClosed
	}

	return m.docCount[documentID] > 0, nil
}

// ListEvidence returns every record in insertion order
func (m *MemoryPersistence) ListEvidence(ctx context.Context) ([]*types.EvidenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return cloneAll(m.records), nil
}

// Close marks the persistence layer closed
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck always succeeds until Close
func (m *MemoryPersistence) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}

func cloneAll(in []*types.EvidenceRecord) []*types.EvidenceRecord {
	out := make([]*types.EvidenceRecord, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}
