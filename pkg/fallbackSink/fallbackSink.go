package fallbackSink

import (
	"context"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
)

// IFallbackSink is a durable alternate destination for evidence records the
// primary store failed to persist. Writes are append-only.
type IFallbackSink interface {
	Write(ctx context.Context, record *types.EvidenceRecord) error
	Close() error
}

// Type names accepted by the server's --fallback-type flag
const (
	TypeCSV   = "csv"
	TypeKafka = "kafka"
	TypeNone  = "none"
)
