package broker

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaOptions struct {
	Brokers           []string
	RequiredAcks      string
	Compression       string
	EnsureTopics      bool
	TopicPartitions   int
	DLQPartitions     int
	ReplicationFactor int
	RetentionMs       int64
}

// KafkaTransport writes synchronously so the caller learns the outcome of
// each event. The writer has no default topic; every message names its own.
type KafkaTransport struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaTransport(opts KafkaOptions, log *zap.Logger) (*KafkaTransport, error) {
	return &KafkaTransport{writer: newKafkaWriter(opts), log: log}, nil
}

func newKafkaWriter(opts KafkaOptions) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(opts.Brokers...),
		Balancer: &kafka.Hash{}, // partition by subject id

		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: parseAcks(opts.RequiredAcks),
		MaxAttempts:  1,
		Async:        false,
		Compression:  parseCompression(opts.Compression),
	}
}

func (t *KafkaTransport) Publish(ctx context.Context, msg Message) (string, error) {
	id := uuid.NewString()
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: "messageId", Value: []byte(id)})
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   msg.Payload,
		Headers: headers,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}

func parseAcks(s string) kafka.RequiredAcks {
	switch strings.ToLower(s) {
	case "none", "0":
		return kafka.RequireNone
	case "one", "1":
		return kafka.RequireOne
	default:
		return kafka.RequireAll
	}
}

func parseCompression(s string) kafka.Compression {
	switch strings.ToLower(s) {
	case "", "none", "no", "off", "0":
		return kafka.Compression(0)
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Snappy
	}
}

func compressionName(s string) string {
	switch c := parseCompression(s); c {
	case 0:
		return "producer"
	default:
		return c.String()
	}
}
