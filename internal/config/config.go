package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jbogacz/beacon-relay-gateway/internal/broker"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
	"github.com/jbogacz/beacon-relay-gateway/internal/publisher"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
)

const (
	DefaultHTTPAddr     = ":3000"
	DefaultHTTPMaxConns = 0
	DefaultMaxBodyBytes = 1 << 20

	DefaultProjectID        = "beacon-relay"
	DefaultTopicName        = "dev.beacons.presence.entered"
	DefaultBackend          = "kafka"
	DefaultPublishTimeoutMs = 5000
	DefaultBatchConcurrency = 8
	DefaultBatchMaxEvents   = schema.DefaultMaxBatchEvents
	DefaultEventTypes       = "ENTER,EXIT,RANGE_UPDATE"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultKafkaBrokers           = "localhost:9092"
	DefaultKafkaRequiredAcks      = "all"
	DefaultKafkaCompression       = "snappy"
	DefaultKafkaTopicPartitions   = 3
	DefaultKafkaDLQPartitions     = 1
	DefaultKafkaReplicationFactor = 1
	DefaultKafkaRetentionMs       = 7 * 24 * 60 * 60 * 1000

	DefaultNATSURL       = "nats://127.0.0.1:4222"
	DefaultMQTTBrokerURL = "tcp://localhost:1883"
	DefaultMQTTQoS       = 1
	DefaultRedisAddr     = "localhost:6379"
)

type Config struct {
	// HTTP
	HTTPAddr     string
	HTTPMaxConns int
	MaxBodyBytes int64

	// Logging
	LogLevel  string
	LogFormat string

	// Pub/Sub
	ProjectID        string
	TopicName        string
	DLQTopic         string
	DisablePubSub    bool
	Backend          broker.Backend
	PublishTimeout   time.Duration
	BatchConcurrency int

	// Schema
	SchemaStrict   bool
	EventTypes     []model.EventType
	BatchMaxEvents int

	Kafka broker.KafkaOptions
	NATS  broker.NATSOptions
	MQTT  broker.MQTTOptions
	Redis broker.RedisOptions
}

// SchemaOptions returns the options the event schema is generated from.
func (c *Config) SchemaOptions() schema.Options {
	return schema.Options{
		Strict:         c.SchemaStrict,
		EventTypes:     c.EventTypes,
		MaxBatchEvents: c.BatchMaxEvents,
	}
}

func (c *Config) PublisherConfig() publisher.Config {
	return publisher.Config{
		ProjectID:         c.ProjectID,
		TopicName:         c.TopicName,
		DLQTopic:          c.DLQTopic,
		DisablePublishing: c.DisablePubSub,
		PublishTimeout:    c.PublishTimeout,
		BatchConcurrency:  c.BatchConcurrency,
		Transport: broker.Options{
			Backend: c.Backend,
			Kafka:   c.Kafka,
			NATS:    c.NATS,
			MQTT:    c.MQTT,
			Redis:   c.Redis,
		},
	}
}

func secret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func (c *Config) String() string {
	types := make([]string, len(c.EventTypes))
	for i, t := range c.EventTypes {
		types[i] = string(t)
	}
	return fmt.Sprintf(`
HTTP:
  Addr:               %s
  MaxConns:           %d
  MaxBodyBytes:       %d

Logging:
  Level:              %s
  Format:             %s

PubSub:
  ProjectID:          %s
  Topic:              %s
  DLQTopic:           %s
  Disabled:           %t
  Backend:            %s
  PublishTimeout:     %s
  BatchConcurrency:   %d

Schema:
  Strict:             %t
  EventTypes:         %s
  BatchMaxEvents:     %d

Kafka:
  Brokers:            %v
  RequiredAcks:       %s
  Compression:        %s
  EnsureTopics:       %t
  TopicPartitions:    %d
  DLQPartitions:      %d
  ReplicationFactor:  %d
  RetentionMs:        %d

NATS:
  URL:                %s

MQTT:
  BrokerURL:          %s
  ClientID:           %s
  Username:           %s
  Password:           %s
  QoS:                %d

Redis:
  Addr:               %s
  Password:           %s
  DB:                 %d
  MaxLen:             %d
`,
		c.HTTPAddr,
		c.HTTPMaxConns,
		c.MaxBodyBytes,

		c.LogLevel,
		c.LogFormat,

		c.ProjectID,
		c.TopicName,
		c.DLQTopic,
		c.DisablePubSub,
		c.Backend,
		c.PublishTimeout,
		c.BatchConcurrency,

		c.SchemaStrict,
		strings.Join(types, ","),
		c.BatchMaxEvents,

		c.Kafka.Brokers,
		c.Kafka.RequiredAcks,
		c.Kafka.Compression,
		c.Kafka.EnsureTopics,
		c.Kafka.TopicPartitions,
		c.Kafka.DLQPartitions,
		c.Kafka.ReplicationFactor,
		c.Kafka.RetentionMs,

		c.NATS.URL,

		c.MQTT.BrokerURL,
		c.MQTT.ClientID,
		c.MQTT.Username,
		secret(c.MQTT.Password),
		c.MQTT.QoS,

		c.Redis.Addr,
		secret(c.Redis.Password),
		c.Redis.DB,
		c.Redis.MaxLen,
	)
}
