package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/IBM/sarama"
)

// ErrProducerRequired is returned by NewKafka when no producer is given.
var ErrProducerRequired = errors.New("kafka producer is required")

// KafkaOption configures a Kafka notifier.
type KafkaOption func(*Kafka)

// WithTopic sets the destination topic. Default: "chat.messages".
func WithTopic(topic string) KafkaOption {
	return func(k *Kafka) {
		k.topic = topic
	}
}

// WithKafkaCodec sets the event codec. Default: JSON.
func WithKafkaCodec(c Codec) KafkaOption {
	return func(k *Kafka) {
		if c != nil {
			k.codec = c
		}
	}
}

// Kafka produces events to a single topic.
//
// Records are keyed by conversation id so that all messages of one
// conversation land on the same partition and keep their relative order.
type Kafka struct {
	closed   atomic.Bool
	producer sarama.SyncProducer
	topic    string
	codec    Codec
	logger   *slog.Logger
}

// NewKafka creates a notifier that owns producer; Close closes it.
func NewKafka(producer sarama.SyncProducer, opts ...KafkaOption) (*Kafka, error) {
	if producer == nil {
		return nil, ErrProducerRequired
	}

	k := &Kafka{
		producer: producer,
		topic:    "chat.messages",
		codec:    DefaultCodec(),
		logger:   slog.Default().With("component", "notify.kafka"),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// WithLogger sets a custom logger.
func (k *Kafka) WithLogger(l *slog.Logger) *Kafka {
	k.logger = l
	return k
}

// Notify produces the event and waits for the broker acknowledgement.
func (k *Kafka) Notify(ctx context.Context, e Event) error {
	if k.closed.Load() {
		return ErrClosed
	}

	data, err := k.codec.Encode(e)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.ConversationID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("Content-Type"), Value: []byte(k.codec.ContentType())},
			{Key: []byte("X-Scheduled"), Value: []byte(strconv.FormatBool(e.Scheduled))},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}

	k.logger.Debug("produced notification",
		"topic", k.topic,
		"partition", partition,
		"offset", offset,
		"message_id", e.MessageID)
	return nil
}

// Close closes the producer.
func (k *Kafka) Close() error {
	if k.closed.Swap(true) {
		return nil
	}
	return k.producer.Close()
}

var _ Notifier = (*Kafka)(nil)
