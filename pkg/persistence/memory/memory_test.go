package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryPersistence(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.IEvidencePersistence {
		return NewMemoryPersistence(zap.NewNop())
	})
}

// TestMemoryPersistence_FailWrites tests the injected write failure used by fallback tests
func TestMemoryPersistence_FailWrites(t *testing.T) {
	mp := NewMemoryPersistence(zap.NewNop())
	ctx := context.Background()
	boom := errors.New("disk on fire")

	mp.FailWrites(boom)
	err := mp.SaveEvidence(ctx, persistencetest.NewRecord("sig-1", "doc-1"), persistence.SaveOptions{})
	assert.ErrorIs(t, err, boom)

	_, err = mp.FindEvidence(ctx, "doc-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	mp.FailWrites(nil)
	require.NoError(t, mp.SaveEvidence(ctx, persistencetest.NewRecord("sig-1", "doc-1"), persistence.SaveOptions{}))
}

func TestMemoryPersistence_DuplicateID(t *testing.T) {
	mp := NewMemoryPersistence(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, mp.SaveEvidence(ctx, persistencetest.NewRecord("sig-1", "doc-1"), persistence.SaveOptions{}))
	assert.Error(t, mp.SaveEvidence(ctx, persistencetest.NewRecord("sig-1", "doc-2"), persistence.SaveOptions{}))
}
