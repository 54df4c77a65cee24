package kafkaSink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/fallbackSink"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/persistence"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// DefaultTopic receives evidence records the primary store rejected
const DefaultTopic = "esign.evidence.fallback"

// KafkaConfig holds the producer settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout bounds a single synchronous produce
	WriteTimeout time.Duration
	// ReadIdleTimeout ends a read-back once a poll returns nothing for this long
	ReadIdleTimeout time.Duration
}

// KafkaSink produces evidence records to an audit topic, keyed by document id
// so every record for a document lands on the same partition.
type KafkaSink struct {
	client   *kgo.Client
	brokers  []string
	topic    string
	timeout  time.Duration
	readIdle time.Duration
	logger   *zap.Logger
}

var _ fallbackSink.IFallbackSink = (*KafkaSink)(nil)

// NewKafkaSink connects a producer requiring acknowledgement from all in-sync replicas
func NewKafkaSink(cfg *KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	readIdle := cfg.ReadIdleTimeout
	if readIdle <= 0 {
		readIdle = 3 * time.Second
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Sugar().Infow("Kafka fallback sink initialized", "brokers", cfg.Brokers, "topic", topic)
	return &KafkaSink{
		client:   client,
		brokers:  cfg.Brokers,
		topic:    topic,
		timeout:  timeout,
		readIdle: readIdle,
		logger:   logger,
	}, nil
}

// Write produces record synchronously and waits for the broker acknowledgement
func (k *KafkaSink) Write(ctx context.Context, record *types.EvidenceRecord) error {
	data, err := persistence.MarshalEvidenceRecord(record)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	res := k.client.ProduceSync(ctx, &kgo.Record{
		Key:   []byte(record.DocumentID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "signature-id", Value: []byte(record.ID)},
		},
	})
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce evidence record to %s: %w", k.topic, err)
	}

	k.logger.Sugar().Infow("Evidence record produced to Kafka fallback",
		"signature_id", record.ID,
		"document_id", record.DocumentID,
		"topic", k.topic,
	)
	return nil
}

// ReadByDocumentID replays the topic from the start with a throwaway consumer
// and returns the records keyed by documentID in partition order. The scan
// stops once a poll stays empty for the read idle timeout, so records produced
// concurrently with the call may be missed.
func (k *KafkaSink) ReadByDocumentID(ctx context.Context, documentID string) ([]*types.EvidenceRecord, error) {
	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(k.brokers...),
		kgo.ConsumeTopics(k.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	defer consumer.Close()

	out := make([]*types.EvidenceRecord, 0)
	for {
		pollCtx, cancel := context.WithTimeout(ctx, k.readIdle)
		fetches := consumer.PollFetches(pollCtx)
		cancel()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return
			}
			if fetchErr == nil {
				fetchErr = fmt.Errorf("failed to fetch %s[%d]: %w", topic, partition, err)
			}
		})
		if fetchErr != nil {
			return nil, fetchErr
		}

		seen := 0
		fetches.EachRecord(func(r *kgo.Record) {
			seen++
			if string(r.Key) != documentID {
				return
			}
			record, err := persistence.UnmarshalEvidenceRecord(r.Value)
			if err != nil {
				k.logger.Sugar().Warnw("Skipping undecodable fallback record",
					"topic", r.Topic,
					"partition", r.Partition,
					"offset", r.Offset,
					"error", err,
				)
				return
			}
			out = append(out, record)
		})
		if seen == 0 {
			return out, nil
		}
	}
}

// Close flushes and closes the producer
func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}
