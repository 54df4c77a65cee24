// Package persistencetest holds behaviour tests shared by every
// IEvidencePersistence backend.
package persistencetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one sub-test
type Factory func(t *testing.T) persistence.IEvidencePersistence

// NewRecord builds a storable record with distinct ids
func NewRecord(id, documentID string) *types.EvidenceRecord {
	size := int64(512)
	return &types.EvidenceRecord{
		ID:            id,
		DocumentID:    documentID,
		SignerID:      "52998224725",
		SignerName:    "Maria Souza",
		ContractTitle: "Contrato de Prestação de Serviços",
		FileMetadata: types.FileMetadata{
			Name:        "contract.pdf",
			Source:      string(types.DocumentSourceUpload),
			RubricaSize: &size,
		},
		SignatureData: types.SignatureData{
			Hash:           strings.Repeat("a", 64),
			SignatureValue: strings.Repeat("b", 64),
			TimestampData: types.TimestampData{
				Timestamp:          "2024-05-01T15:30:45.123Z",
				AuthoritySignature: strings.Repeat("c", 64),
				Provider:           "eigenx-esign-mock-tsa",
			},
			AuthMethod:   "otp:email",
			VisualRubric: "sha256:" + strings.Repeat("d", 64),
		},
		SignedAt: time.Date(2024, 5, 1, 15, 30, 45, 123_000_000, time.UTC),
	}
}

// Run executes the shared behaviour tests against backends built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveAndLoad(t, newStore(t)) })
	t.Run("LoadNotFound", func(t *testing.T) { testLoadNotFound(t, newStore(t)) })
	t.Run("SaveRejectsInvalid", func(t *testing.T) { testSaveRejectsInvalid(t, newStore(t)) })
	t.Run("ReturnsCopies", func(t *testing.T) { testReturnsCopies(t, newStore(t)) })
	t.Run("FindByKeys", func(t *testing.T) { testFindByKeys(t, newStore(t)) })
	t.Run("FindFirstInInsertionOrder", func(t *testing.T) { testFindFirst(t, newStore(t)) })
	t.Run("DuplicateDocumentAllowed", func(t *testing.T) { testDuplicateAllowed(t, newStore(t)) })
	t.Run("DuplicateDocumentRejected", func(t *testing.T) { testDuplicateRejected(t, newStore(t)) })
	t.Run("ConcurrentUniqueSaves", func(t *testing.T) { testConcurrentUnique(t, newStore(t)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newStore(t)) })
}

func testSaveAndLoad(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	rec := NewRecord("sig-1", "doc-1")

	require.NoError(t, store.SaveEvidence(ctx, rec, persistence.SaveOptions{}))

	loaded, err := store.LoadEvidence(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, loaded.ID)
	assert.Equal(t, rec.DocumentID, loaded.DocumentID)
	assert.Equal(t, rec.SignatureData, loaded.SignatureData)
	require.NotNil(t, loaded.FileMetadata.RubricaSize)
	assert.Equal(t, *rec.FileMetadata.RubricaSize, *loaded.FileMetadata.RubricaSize)
	assert.True(t, rec.SignedAt.Equal(loaded.SignedAt))

	exists, err := store.ExistsDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.HealthCheck(ctx))
}

func testLoadNotFound(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()

	_, err := store.LoadEvidence(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	_, err = store.FindEvidence(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	all, err := store.FindAllEvidence(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, all)

	exists, err := store.ExistsDocument(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func testSaveRejectsInvalid(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()

	assert.Error(t, store.SaveEvidence(ctx, nil, persistence.SaveOptions{}))
	assert.Error(t, store.SaveEvidence(ctx, NewRecord("", "doc-1"), persistence.SaveOptions{}))

	list, err := store.ListEvidence(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testReturnsCopies(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	rec := NewRecord("sig-1", "doc-1")
	require.NoError(t, store.SaveEvidence(ctx, rec, persistence.SaveOptions{}))

	// mutating the caller's record after save must not leak into storage
	rec.SignerName = "tampered"
	*rec.FileMetadata.RubricaSize = 1

	loaded, err := store.LoadEvidence(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "Maria Souza", loaded.SignerName)
	assert.Equal(t, int64(512), *loaded.FileMetadata.RubricaSize)

	loaded.SignerName = "tampered again"
	again, err := store.LoadEvidence(ctx, "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "Maria Souza", again.SignerName)
}

func testFindByKeys(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	rec := NewRecord("sig-1", "doc-1")
	require.NoError(t, store.SaveEvidence(ctx, rec, persistence.SaveOptions{}))

	other := NewRecord("sig-2", "doc-2")
	other.SignerID = "11144477735"
	other.SignerName = "João Lima"
	other.ContractTitle = "Termo Aditivo"
	require.NoError(t, store.SaveEvidence(ctx, other, persistence.SaveOptions{}))

	for _, term := range []string{"sig-1", "doc-1", "52998224725", "529.982.247-25", "maria", "PRESTAÇÃO"} {
		found, err := store.FindEvidence(ctx, term)
		require.NoError(t, err, term)
		assert.Equal(t, "sig-1", found.ID, term)
	}

	found, err := store.FindEvidence(ctx, "aditivo")
	require.NoError(t, err)
	assert.Equal(t, "sig-2", found.ID)
}

func testFindFirst(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	ids := []string{"sig-c", "sig-a", "sig-b"}
	for _, id := range ids {
		require.NoError(t, store.SaveEvidence(ctx, NewRecord(id, "doc-"+id), persistence.SaveOptions{}))
	}

	found, err := store.FindEvidence(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, "sig-c", found.ID)

	all, err := store.FindAllEvidence(ctx, "maria")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, id := range ids {
		assert.Equal(t, id, all[i].ID)
	}

	list, err := store.ListEvidence(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "sig-c", list[0].ID)
}

func testDuplicateAllowed(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	require.NoError(t, store.SaveEvidence(ctx, NewRecord("sig-1", "doc-1"), persistence.SaveOptions{}))
	require.NoError(t, store.SaveEvidence(ctx, NewRecord("sig-2", "doc-1"), persistence.SaveOptions{}))

	all, err := store.FindAllEvidence(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testDuplicateRejected(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	unique := persistence.SaveOptions{RequireUniqueDocumentID: true}

	require.NoError(t, store.SaveEvidence(ctx, NewRecord("sig-1", "doc-1"), unique))

	err := store.SaveEvidence(ctx, NewRecord("sig-2", "doc-1"), unique)
	assert.ErrorIs(t, err, persistence.ErrDuplicateDocument)

	_, err = store.LoadEvidence(ctx, "sig-2")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	require.NoError(t, store.SaveEvidence(ctx, NewRecord("sig-3", "doc-2"), unique))
}

func testConcurrentUnique(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()
	unique := persistence.SaveOptions{RequireUniqueDocumentID: true}

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	duplicates := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.SaveEvidence(ctx, NewRecord(fmt.Sprintf("sig-%d", i), "doc-race"), unique)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, persistence.ErrDuplicateDocument):
				duplicates++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, writers-1, duplicates)

	all, err := store.FindAllEvidence(ctx, "doc-race")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testClose(t *testing.T, store persistence.IEvidencePersistence) {
	ctx := context.Background()

	require.NoError(t, store.Close())
	require.NoError(t, store.Close(), "close must be idempotent")

	err := store.SaveEvidence(ctx, NewRecord("sig-1", "doc-1"), persistence.SaveOptions{})
	assert.ErrorIs(t, err, persistence.ErrClosed)

	_, err = store.LoadEvidence(ctx, "sig-1")
	assert.ErrorIs(t, err, persistence.ErrClosed)

	assert.ErrorIs(t, store.HealthCheck(ctx), persistence.ErrClosed)
}
