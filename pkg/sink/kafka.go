package sink

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/json"
	"github.com/ajitpratap0/redtap/pkg/logger"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	// Acks is all, 1 or 0
	Acks        string
	Compression string
	Retries     int
	// BatchSize is how many messages are buffered before a send
	BatchSize int
}

// KafkaSink publishes messages to one topic, keyed by stream so a stream's
// messages stay in partition order. A STATE message is published once per
// stream written so far, keyed by that stream, so it follows the stream's
// records on their partition; before any stream it is keyed "state".
// Messages are batched; a STATE message, a full batch and Flush all send
// the batch synchronously.
type KafkaSink struct {
	topic     string
	batchSize int
	producer  sarama.SyncProducer
	logger    *zap.Logger

	mu      sync.Mutex
	pending []*sarama.ProducerMessage
	streams []string
	seen    map[string]struct{}
}

// NewKafkaSink connects a sync producer to the brokers.
func NewKafkaSink(cfg KafkaConfig, l *zap.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, buildSaramaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create Kafka producer").
			WithDetail("brokers", cfg.Brokers)
	}
	s := NewKafkaSinkFromProducer(producer, cfg.Topic, cfg.BatchSize, l)
	s.logger.Info("connected to Kafka",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return s, nil
}

// NewKafkaSinkFromProducer wraps an existing producer.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string, batchSize int, l *zap.Logger) *KafkaSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &KafkaSink{
		topic:     topic,
		batchSize: batchSize,
		producer:  producer,
		logger:    logger.OrDefault(l),
		seen:      make(map[string]struct{}),
	}
}

func buildSaramaConfig(cfg KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}

	switch cfg.Acks {
	case "1":
		config.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		config.Producer.RequiredAcks = sarama.NoResponse
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	switch cfg.Compression {
	case "gzip":
		config.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		config.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		config.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		config.Producer.Compression = sarama.CompressionZSTD
	default:
		config.Producer.Compression = sarama.CompressionNone
	}

	if cfg.Retries > 0 {
		config.Producer.Retry.Max = cfg.Retries
	}
	config.Producer.Retry.Backoff = 250 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	if config.Producer.RequiredAcks == sarama.WaitForAll {
		// one in-flight request keeps partition order across retries
		config.Producer.Idempotent = true
		config.Net.MaxOpenRequests = 1
	}
	return config
}

// Write implements Sink.
func (s *KafkaSink) Write(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode message").
			WithDetail("type", string(msg.MessageType()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{msg.StreamName()}
	if stream := msg.StreamName(); stream != "" {
		if _, ok := s.seen[stream]; !ok {
			s.seen[stream] = struct{}{}
			s.streams = append(s.streams, stream)
		}
	} else if len(s.streams) > 0 {
		keys = s.streams
	} else {
		keys = []string{"state"}
	}

	for _, key := range keys {
		s.pending = append(s.pending, &sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("type"), Value: []byte(msg.MessageType())},
			},
		})
	}

	if msg.MessageType() == TypeState || len(s.pending) >= s.batchSize {
		return s.sendLocked(ctx)
	}
	return nil
}

// Flush implements Sink.
func (s *KafkaSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(ctx)
}

func (s *KafkaSink) sendLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := s.pending
	s.pending = nil
	if err := s.producer.SendMessages(batch); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish messages").
			WithDetail("topic", s.topic).
			WithDetail("messages", len(batch))
	}
	s.logger.Debug("published messages",
		zap.String("topic", s.topic),
		zap.Int("messages", len(batch)))
	return nil
}

// Close sends anything pending and closes the producer.
func (s *KafkaSink) Close() error {
	flushErr := s.Flush(context.Background())
	if err := s.producer.Close(); err != nil && flushErr == nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close Kafka producer")
	}
	return flushErr
}
