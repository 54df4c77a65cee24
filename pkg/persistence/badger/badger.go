package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// Key layout
//
//	evidence:seq:<20-digit seq>  -> record JSON (iteration order = insertion order)
//	evidence:id:<signatureId>    -> seq
//	evidence:doc:<documentId>    -> seq of the first record for the document
//	metadata:next_seq            -> next seq to assign
const (
	keyPrefixRecord      = "evidence:seq:"
	keyPrefixID          = "evidence:id:"
	keyPrefixDocument    = "evidence:doc:"
	keyNextSeq           = "metadata:next_seq"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"

	// maxConflictRetries bounds optimistic retries when concurrent saves collide
	maxConflictRetries = 16
)

// BadgerPersistence is a production-ready persistence implementation using Badger.
// Provides durable, disk-based storage with ACID guarantees.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.IEvidencePersistence = (*BadgerPersistence)(nil)

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefixRecord, seq))
}

func encodeSeq(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func decodeSeq(val []byte) (uint64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid sequence length: %d", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// SaveEvidence writes the record and its indexes in a single transaction.
// The sequence counter and document index are read inside the transaction,
// so concurrent saves conflict and are retried rather than interleaving.
func (b *BadgerPersistence) SaveEvidence(ctx context.Context, record *types.EvidenceRecord, opts persistence.SaveOptions) error {
	if err := persistence.ValidateRecord(record); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalEvidenceRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal EvidenceRecord: %w", err)
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err = b.db.Update(func(txn *badgerdb.Txn) error {
			return b.insert(txn, record, data, opts)
		})
		if !errors.Is(err, badgerdb.ErrConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, persistence.ErrDuplicateDocument) {
			return err
		}
		return fmt.Errorf("failed to save EvidenceRecord: %w", err)
	}
	return nil
}

func (b *BadgerPersistence) insert(txn *badgerdb.Txn, record *types.EvidenceRecord, data []byte, opts persistence.SaveOptions) error {
	idKey := []byte(keyPrefixID + record.ID)
	if _, err := txn.Get(idKey); err == nil {
		return fmt.Errorf("evidence record %s already exists", record.ID)
	} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return err
	}

	docKey := []byte(keyPrefixDocument + record.DocumentID)
	_, err := txn.Get(docKey)
	docExists := err == nil
	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
		return err
	}
	if docExists && opts.RequireUniqueDocumentID {
		return persistence.ErrDuplicateDocument
	}

	var seq uint64
	item, err := txn.Get([]byte(keyNextSeq))
	switch {
	case errors.Is(err, badgerdb.ErrKeyNotFound):
		seq = 0
	case err != nil:
		return err
	default:
		if err := item.Value(func(val []byte) error {
			seq, err = decodeSeq(val)
			return err
		}); err != nil {
			return err
		}
	}

	if err := txn.Set(recordKey(seq), data); err != nil {
		return err
	}
	if err := txn.Set(idKey, encodeSeq(seq)); err != nil {
		return err
	}
	if !docExists {
		if err := txn.Set(docKey, encodeSeq(seq)); err != nil {
			return err
		}
	}
	return txn.Set([]byte(keyNextSeq), encodeSeq(seq+1))
}

// LoadEvidence retrieves a record by signature id
func (b *BadgerPersistence) LoadEvidence(ctx context.Context, id string) (*types.EvidenceRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefixID + id))
		if err != nil {
			return err
		}
		var seq uint64
		if err := item.Value(func(val []byte) error {
			seq, err = decodeSeq(val)
			return err
		}); err != nil {
			return err
		}

		recItem, err := txn.Get(recordKey(seq))
		if err != nil {
			return err
		}
		data, err = recItem.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EvidenceRecord: %w", err)
	}

	return persistence.UnmarshalEvidenceRecord(data)
}

// FindEvidence returns the first record in insertion order matching term
func (b *BadgerPersistence) FindEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	found, err := b.scan(ctx, term, true)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, persistence.ErrNotFound
	}
	return found[0], nil
}

// FindAllEvidence returns every record matching term
func (b *BadgerPersistence) FindAllEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	return b.scan(ctx, term, false)
}

// ListEvidence returns all records in insertion order
func (b *BadgerPersistence) ListEvidence(ctx context.Context) ([]*types.EvidenceRecord, error) {
	return b.iterate(ctx, func(*types.EvidenceRecord) (bool, bool) { return true, false })
}

func (b *BadgerPersistence) scan(ctx context.Context, term string, firstOnly bool) ([]*types.EvidenceRecord, error) {
	st := persistence.NewSearchTerm(term)
	if st.Empty() {
		return []*types.EvidenceRecord{}, nil
	}
	return b.iterate(ctx, func(r *types.EvidenceRecord) (bool, bool) {
		match := st.Matches(r)
		return match, match && firstOnly
	})
}

// iterate walks records in key order. visit returns whether to keep the
// record and whether to stop.
func (b *BadgerPersistence) iterate(ctx context.Context, visit func(*types.EvidenceRecord) (keep bool, stop bool)) ([]*types.EvidenceRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	records := make([]*types.EvidenceRecord, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixRecord)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			record, err := persistence.UnmarshalEvidenceRecord(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal EvidenceRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}

			keep, stop := visit(record)
			if keep {
				records = append(records, record)
			}
			if stop {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan EvidenceRecords: %w", err)
	}

	return records, nil
}

// ExistsDocument reports whether documentID has been recorded
func (b *BadgerPersistence) ExistsDocument(ctx context.Context, documentID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, persistence.ErrClosed
	}

	err := b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keyPrefixDocument + documentID))
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check document index: %w", err)
	}
	return true, nil
}

// Close cleanly shuts down the database
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
