package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redtaperrors "github.com/ajitpratap0/redtap/pkg/errors"
	"github.com/ajitpratap0/redtap/pkg/state"
)

func record(i int) *RecordMessage {
	return NewRecord("public-users", Record{Columns: []string{"id"}, Values: []interface{}{i}}, time.Now())
}

func TestKafkaSink_BatchesUntilState(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	s := NewKafkaSinkFromProducer(producer, "redtap", 10, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, record(1)))
	require.NoError(t, s.Write(ctx, record(2)))
	assert.Len(t, s.pending, 2)

	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"STATE","value":{"bookmarks":{}}}` {
			return errors.New("unexpected state payload " + string(val))
		}
		return nil
	})
	require.NoError(t, s.Write(ctx, NewState(&state.State{Bookmarks: map[string]state.Bookmark{}})))
	assert.Empty(t, s.pending)

	require.NoError(t, s.Close())
}

func TestKafkaSink_StateFollowsEachStream(t *testing.T) {
	producer := &recordingProducer{}
	s := NewKafkaSinkFromProducer(producer, "redtap", 10, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, record(1)))
	require.NoError(t, s.Write(ctx, NewRecord("public-orders", Record{Columns: []string{"id"}, Values: []interface{}{7}}, time.Now())))
	require.NoError(t, s.Write(ctx, record(2)))
	require.NoError(t, s.Write(ctx, NewState(&state.State{Bookmarks: map[string]state.Bookmark{}})))

	assert.Equal(t, []string{
		"RECORD public-users", "RECORD public-orders", "RECORD public-users",
		"STATE public-users", "STATE public-orders",
	}, producer.sent)
}

func TestKafkaSink_StateBeforeAnyStream(t *testing.T) {
	producer := &recordingProducer{}
	s := NewKafkaSinkFromProducer(producer, "redtap", 10, zap.NewNop())

	require.NoError(t, s.Write(context.Background(), NewState(&state.State{Bookmarks: map[string]state.Bookmark{}})))
	assert.Equal(t, []string{"STATE state"}, producer.sent)
}

func TestKafkaSink_SendsFullBatch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	s := NewKafkaSinkFromProducer(producer, "redtap", 2, zap.NewNop())
	ctx := context.Background()

	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	require.NoError(t, s.Write(ctx, record(1)))
	require.NoError(t, s.Write(ctx, record(2)))
	assert.Empty(t, s.pending)

	producer.ExpectSendMessageAndSucceed()
	require.NoError(t, s.Write(ctx, record(3)))
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())
}

func TestKafkaSink_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	s := NewKafkaSinkFromProducer(producer, "redtap", 10, zap.NewNop())
	ctx := context.Background()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	require.NoError(t, s.Write(ctx, record(1)))
	err := s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, redtaperrors.IsType(err, redtaperrors.ErrorTypeConnection))

	require.NoError(t, s.Close())
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := buildSaramaConfig(KafkaConfig{Acks: "all", Compression: "zstd", Retries: 5})
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, cfg.Producer.Compression)
	assert.Equal(t, 5, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Idempotent)
	assert.NoError(t, cfg.Validate())

	cfg = buildSaramaConfig(KafkaConfig{Acks: "1"})
	assert.Equal(t, sarama.WaitForLocal, cfg.Producer.RequiredAcks)
	assert.False(t, cfg.Producer.Idempotent)
	assert.NoError(t, cfg.Validate())
}

// recordingProducer records "<type> <key>" for every message sent.
type recordingProducer struct {
	sarama.SyncProducer
	sent []string
}

func (p *recordingProducer) SendMessages(msgs []*sarama.ProducerMessage) error {
	for _, m := range msgs {
		key, _ := m.Key.Encode()
		p.sent = append(p.sent, string(m.Headers[0].Value)+" "+string(key))
	}
	return nil
}

func (p *recordingProducer) Close() error { return nil }
