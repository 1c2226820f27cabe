package broker

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// TopicSpec describes one topic the gateway expects to exist.
type TopicSpec struct {
	Name       string
	Partitions int
}

// KafkaTopics returns the topics to provision for a main topic and an
// optional dead-letter topic.
func KafkaTopics(opts KafkaOptions, topic, dlq string) []TopicSpec {
	specs := []TopicSpec{{Name: topic, Partitions: opts.TopicPartitions}}
	if dlq != "" {
		specs = append(specs, TopicSpec{Name: dlq, Partitions: opts.DLQPartitions})
	}
	return specs
}

func dialAnyBroker(ctx context.Context, brokers []string, perAttempt time.Duration, log *zap.Logger) (*kafka.Conn, string, error) {
	var lastErr error
	for _, b := range brokers {
		dctx, cancel := context.WithTimeout(ctx, perAttempt)
		conn, err := kafka.DialContext(dctx, "tcp", b)
		cancel()
		if err == nil {
			log.Info("kafka connected to bootstrap", zap.String("broker", b))
			return conn, b, nil
		}
		lastErr = err
		log.Warn("kafka cannot connect, trying next", zap.String("broker", b), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers provided")
	}
	return nil, "", lastErr
}

func dialController(ctx context.Context, ctrl kafka.Broker, perAttempt time.Duration) (*kafka.Conn, error) {
	addr := net.JoinHostPort(ctrl.Host, strconv.Itoa(ctrl.Port))
	dctx, cancel := context.WithTimeout(ctx, perAttempt)
	defer cancel()
	return kafka.DialContext(dctx, "tcp", addr)
}

// EnsureKafkaTopics creates every missing topic through the cluster
// controller. Existing topics are left untouched.
func EnsureKafkaTopics(ctx context.Context, opts KafkaOptions, topics []TopicSpec, log *zap.Logger) error {
	const perAttempt = 5 * time.Second
	conn, bootstrap, err := dialAnyBroker(ctx, opts.Brokers, perAttempt, log)
	if err != nil {
		return fmt.Errorf("bootstrap connect failed (tried %v): %w", opts.Brokers, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("read controller from %s failed: %w", bootstrap, err)
	}
	ctrlConn, err := dialController(ctx, controller, perAttempt)
	if err != nil {
		return fmt.Errorf("controller %s:%d dial failed: %w", controller.Host, controller.Port, err)
	}
	defer ctrlConn.Close()

	exists := func(topic string) bool {
		parts, err := conn.ReadPartitions(topic)
		return err == nil && len(parts) > 0
	}

	for _, t := range topics {
		if exists(t.Name) {
			log.Info("kafka topic already exists, skipping", zap.String("topic", t.Name))
			continue
		}
		log.Info("kafka creating topic",
			zap.String("topic", t.Name),
			zap.Int("partitions", t.Partitions),
			zap.Int("rf", opts.ReplicationFactor))
		if err := ctrlConn.CreateTopics(topicConfig(opts, t)); err != nil {
			return fmt.Errorf("create topic %s: %w", t.Name, err)
		}
	}
	return nil
}

func topicConfig(opts KafkaOptions, t TopicSpec) kafka.TopicConfig {
	partitions := t.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	rf := opts.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}
	entries := []kafka.ConfigEntry{
		{ConfigName: "compression.type", ConfigValue: compressionName(opts.Compression)},
	}
	if opts.RetentionMs > 0 {
		entries = append(entries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(opts.RetentionMs, 10)})
	}
	return kafka.TopicConfig{
		Topic:             t.Name,
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		ConfigEntries:     entries,
	}
}
