package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const currentSchemaVersion = "v1"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS esign_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS evidence_records (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	document_id    TEXT NOT NULL,
	signer_id      TEXT NOT NULL,
	signer_name    TEXT NOT NULL,
	contract_title TEXT NOT NULL,
	signed_at      TIMESTAMPTZ NOT NULL,
	record         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS evidence_records_document_id_idx ON evidence_records (document_id);
CREATE INDEX IF NOT EXISTS evidence_records_signer_id_idx ON evidence_records (signer_id);
`

// matchClause mirrors persistence.SearchTerm.Matches.
// $1 = raw term, $2 = digits-only term
const matchClause = `
	id = $1::text
	OR document_id = $1::text
	OR ($2::text <> '' AND signer_id = $2::text)
	OR strpos(lower(signer_name), lower($1::text)) > 0
	OR strpos(lower(contract_title), lower($1::text)) > 0`

// PostgresPersistence stores evidence records in PostgreSQL.
// Every write runs in its own transaction with a deferred rollback, so a
// failure part way through never leaves a partial row visible.
type PostgresPersistence struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ persistence.IEvidencePersistence = (*PostgresPersistence)(nil)

// PostgresConfig holds the connection settings
type PostgresConfig struct {
	// DSN is a libpq-style connection string or postgres:// URL
	DSN string
	// MaxConns caps the pool size; zero keeps the pgx default
	MaxConns int32
}

// NewPostgresPersistence connects, applies the schema and validates its version
func NewPostgresPersistence(ctx context.Context, cfg *PostgresConfig, logger *zap.Logger) (*PostgresPersistence, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pp := &PostgresPersistence{pool: pool, logger: logger}
	if err := pp.initSchema(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Postgres persistence initialized", "host", poolCfg.ConnConfig.Host, "database", poolCfg.ConnConfig.Database)
	return pp, nil
}

func (p *PostgresPersistence) initSchema(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var existing string
	err = tx.QueryRow(ctx, `SELECT value FROM esign_metadata WHERE key = 'schema_version'`).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO esign_metadata (key, value) VALUES ('schema_version', $1)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case existing != currentSchemaVersion:
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existing, currentSchemaVersion)
	}

	return tx.Commit(ctx)
}

// SaveEvidence inserts the record in a transaction. Unique saves take a
// transaction-scoped advisory lock on the document id before checking for an
// existing row, which serializes competing writers for the same document.
func (p *PostgresPersistence) SaveEvidence(ctx context.Context, record *types.EvidenceRecord, opts persistence.SaveOptions) error {
	if err := persistence.ValidateRecord(record); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalEvidenceRecord(record)
	if err != nil {
		return fmt.Errorf("failed to marshal EvidenceRecord: %w", err)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if opts.RequireUniqueDocumentID {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, record.DocumentID); err != nil {
			return fmt.Errorf("failed to lock document id: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM evidence_records WHERE document_id = $1)`, record.DocumentID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check document id: %w", err)
		}
		if exists {
			return persistence.ErrDuplicateDocument
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO evidence_records (id, document_id, signer_id, signer_name, contract_title, signed_at, record)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		record.ID, record.DocumentID, record.SignerID, record.SignerName, record.ContractTitle, record.SignedAt, string(data))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("evidence record %s already exists", record.ID)
		}
		return fmt.Errorf("failed to insert EvidenceRecord: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit EvidenceRecord: %w", err)
	}
	return nil
}

// LoadEvidence retrieves a record by id
func (p *PostgresPersistence) LoadEvidence(ctx context.Context, id string) (*types.EvidenceRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, persistence.ErrClosed
	}

	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM evidence_records WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EvidenceRecord: %w", err)
	}

	return persistence.UnmarshalEvidenceRecord(data)
}

// FindEvidence returns the first match by insertion order
func (p *PostgresPersistence) FindEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error) {
	found, err := p.query(ctx, term, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, persistence.ErrNotFound
	}
	return found[0], nil
}

// FindAllEvidence returns every match by insertion order
func (p *PostgresPersistence) FindAllEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error) {
	return p.query(ctx, term, 0)
}

func (p *PostgresPersistence) query(ctx context.Context, term string, limit int) ([]*types.EvidenceRecord, error) {
	st := persistence.NewSearchTerm(term)
	if st.Empty() {
		return []*types.EvidenceRecord{}, nil
	}

	sql := `SELECT record FROM evidence_records WHERE` + matchClause + ` ORDER BY seq`
	if limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	return p.collect(ctx, sql, st.Raw, st.Normalized)
}

// ListEvidence returns all records by insertion order
func (p *PostgresPersistence) ListEvidence(ctx context.Context) ([]*types.EvidenceRecord, error) {
	return p.collect(ctx, `SELECT record FROM evidence_records ORDER BY seq`)
}

func (p *PostgresPersistence) collect(ctx context.Context, sql string, args ...any) ([]*types.EvidenceRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, persistence.ErrClosed
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query EvidenceRecords: %w", err)
	}
	defer rows.Close()

	records := make([]*types.EvidenceRecord, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan EvidenceRecord: %w", err)
		}
		record, err := persistence.UnmarshalEvidenceRecord(data)
		if err != nil {
			p.logger.Sugar().Warnw("Failed to unmarshal EvidenceRecord, skipping", "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ExistsDocument reports whether documentID has been recorded
func (p *PostgresPersistence) ExistsDocument(ctx context.Context, documentID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false, persistence.ErrClosed
	}

	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM evidence_records WHERE document_id = $1)`, documentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document id: %w", err)
	}
	return exists, nil
}

// Close releases the pool
func (p *PostgresPersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.pool.Close()

	p.logger.Sugar().Info("Postgres persistence closed")
	return nil
}

// HealthCheck pings the database
func (p *PostgresPersistence) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return persistence.ErrClosed
	}

	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Truncate removes every record. Only meant for test isolation.
func (p *PostgresPersistence) Truncate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `TRUNCATE evidence_records RESTART IDENTITY`)
	return err
}
