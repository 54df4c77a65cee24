//go:build integration

package kafkaSink

import (
	"context"
	"testing"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence/persistencetest"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func TestKafkaSink_WriteIsConsumable(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	ctx := context.Background()

	sink, err := NewKafkaSink(&KafkaConfig{Brokers: kc.Brokers, Topic: "evidence-test"}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	rec := persistencetest.NewRecord("sig-1", "doc-1")
	require.NoError(t, sink.Write(ctx, rec))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kc.Brokers...),
		kgo.ConsumeTopics("evidence-test"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var got []*kgo.Record
	for len(got) == 0 {
		fetches := consumer.PollFetches(pollCtx)
		require.NoError(t, pollCtx.Err())
		fetches.EachRecord(func(r *kgo.Record) { got = append(got, r) })
	}

	require.Len(t, got, 1)
	assert.Equal(t, "doc-1", string(got[0].Key))

	decoded, err := persistence.UnmarshalEvidenceRecord(got[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", decoded.ID)
}

func TestKafkaSink_ReadByDocumentID(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	ctx := context.Background()

	sink, err := NewKafkaSink(&KafkaConfig{
		Brokers:         kc.Brokers,
		Topic:           "evidence-readback",
		ReadIdleTimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	require.NoError(t, sink.Write(ctx, persistencetest.NewRecord("sig-1", "doc-1")))
	require.NoError(t, sink.Write(ctx, persistencetest.NewRecord("sig-2", "doc-2")))
	require.NoError(t, sink.Write(ctx, persistencetest.NewRecord("sig-3", "doc-1")))

	readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	got, err := sink.ReadByDocumentID(readCtx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sig-1", got[0].ID)
	assert.Equal(t, "sig-3", got[1].ID)

	none, err := sink.ReadByDocumentID(readCtx, "doc-missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
