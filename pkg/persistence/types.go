package persistence

import "errors"

var (
	// ErrNotFound is returned when no record matches a lookup
	ErrNotFound = errors.New("evidence record not found")

	// ErrDuplicateDocument is returned by a unique save when the document id is taken
	ErrDuplicateDocument = errors.New("evidence record already exists for document")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("persistence layer is closed")
)

// SaveOptions tunes a single SaveEvidence call
type SaveOptions struct {
	// RequireUniqueDocumentID rejects the write if the document id is already recorded
	RequireUniqueDocumentID bool
}

// Type names accepted by the server's --persistence-type flag
const (
	TypeMemory   = "memory"
	TypeBadger   = "badger"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
)
