package badger

import (
	"context"
	"testing"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/logger"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T, dir string) *BadgerPersistence {
	t.Helper()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	bp, err := NewBadgerPersistence(dir, testLogger)
	require.NoError(t, err)
	return bp
}

func TestBadgerPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IEvidencePersistence {
		bp := newTestPersistence(t, t.TempDir())
		t.Cleanup(func() { _ = bp.Close() })
		return bp
	})
}

// TestBadgerPersistence_SurvivesRestart tests that records and their order
// are intact after reopening the database
func TestBadgerPersistence_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	bp := newTestPersistence(t, dir)
	require.NoError(t, bp.SaveEvidence(ctx, persistencetest.NewRecord("sig-1", "doc-1"), persistence.SaveOptions{}))
	require.NoError(t, bp.SaveEvidence(ctx, persistencetest.NewRecord("sig-2", "doc-2"), persistence.SaveOptions{}))
	require.NoError(t, bp.Close())

	reopened := newTestPersistence(t, dir)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.LoadEvidence(ctx, "sig-2")
	require.NoError(t, err)
	assert.Equal(t, "doc-2", loaded.DocumentID)

	// the sequence counter resumes rather than overwriting the first record
	require.NoError(t, reopened.SaveEvidence(ctx, persistencetest.NewRecord("sig-3", "doc-3"), persistence.SaveOptions{}))

	list, err := reopened.ListEvidence(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "sig-1", list[0].ID)
	assert.Equal(t, "sig-2", list[1].ID)
	assert.Equal(t, "sig-3", list[2].ID)

	err = reopened.SaveEvidence(ctx, persistencetest.NewRecord("sig-4", "doc-1"), persistence.SaveOptions{RequireUniqueDocumentID: true})
	assert.ErrorIs(t, err, persistence.ErrDuplicateDocument)
}
