package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jbogacz/beacon-relay-gateway/internal/broker"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

type errList []string

func (e *errList) addf(format string, a ...any) { *e = append(*e, fmt.Sprintf(format, a...)) }
func (e *errList) add(msg string)               { *e = append(*e, msg) }
func (e *errList) has() bool                    { return len(*e) > 0 }

// Error lists every configuration problem found during LoadConfig.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid configuration (%d problems):\n  - %s",
		len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// loader reads keys through viper so environment variables and an optional
// config file share one namespace. Values are read as strings and parsed
// here, so malformed input is reported instead of silently zeroed.
type loader struct {
	v    *viper.Viper
	errs errList
}

func (l *loader) get(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l *loader) getRequired(key string) string {
	v := l.get(key)
	if v == "" {
		l.errs.addf("missing %s", key)
	}
	return v
}

func (l *loader) getInt(key string) int {
	v := l.get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs.addf("invalid %s (expected int): %q", key, v)
		return 0
	}
	return n
}

func (l *loader) getInt64(key string) int64 {
	v := l.get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		l.errs.addf("invalid %s (expected int64): %q", key, v)
		return 0
	}
	return n
}

func (l *loader) getBool(key string) bool {
	v := strings.ToLower(l.get(key))
	switch v {
	case "1", "true", "yes", "y":
		return true
	case "", "0", "false", "no", "n":
		return false
	default:
		l.errs.addf("invalid %s (use true/false or 1/0): %q", key, v)
		return false
	}
}

func (l *loader) oneOf(key, val string, allowed []string) {
	for _, a := range allowed {
		if val == a {
			return
		}
	}
	l.errs.addf("invalid %s (allowed: %s): %q", key, strings.Join(allowed, ", "), val)
}

func parseBrokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", DefaultHTTPAddr)
	v.SetDefault("HTTP_MAX_CONNS", DefaultHTTPMaxConns)
	v.SetDefault("MAX_BODY_BYTES", DefaultMaxBodyBytes)
	v.SetDefault("LOG_LEVEL", DefaultLogLevel)
	v.SetDefault("LOG_FORMAT", DefaultLogFormat)

	v.SetDefault("PUBSUB_PROJECT_ID", DefaultProjectID)
	v.SetDefault("PUBSUB_TOPIC_NAME", DefaultTopicName)
	v.SetDefault("DISABLE_PUBSUB", false)
	v.SetDefault("BUS_BACKEND", DefaultBackend)
	v.SetDefault("PUBLISH_TIMEOUT_MS", DefaultPublishTimeoutMs)
	v.SetDefault("BATCH_CONCURRENCY", DefaultBatchConcurrency)
	v.SetDefault("BATCH_MAX_EVENTS", DefaultBatchMaxEvents)
	v.SetDefault("SCHEMA_STRICT", true)
	v.SetDefault("EVENT_TYPES", DefaultEventTypes)

	v.SetDefault("KAFKA_BROKERS", DefaultKafkaBrokers)
	v.SetDefault("KAFKA_REQUIRED_ACKS", DefaultKafkaRequiredAcks)
	v.SetDefault("KAFKA_COMPRESSION", DefaultKafkaCompression)
	v.SetDefault("KAFKA_ENSURE_TOPICS", false)
	v.SetDefault("KAFKA_TOPIC_PARTITIONS", DefaultKafkaTopicPartitions)
	v.SetDefault("KAFKA_DLQ_PARTITIONS", DefaultKafkaDLQPartitions)
	v.SetDefault("KAFKA_REPLICATION_FACTOR", DefaultKafkaReplicationFactor)
	v.SetDefault("KAFKA_RETENTION_MS", DefaultKafkaRetentionMs)

	v.SetDefault("NATS_URL", DefaultNATSURL)

	v.SetDefault("MQTT_BROKER_URL", DefaultMQTTBrokerURL)
	v.SetDefault("MQTT_QOS", DefaultMQTTQoS)

	v.SetDefault("REDIS_ADDR", DefaultRedisAddr)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_MAX_LEN", 0)
}

// LoadConfig resolves the configuration from the environment and, when path
// is not empty, a config file (YAML, TOML or JSON, keyed like the
// environment variables). Environment variables win over the file. Every
// problem is collected and returned together as *Error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	l := &loader{v: v}

	httpAddr := l.getRequired("HTTP_ADDR")
	httpMaxConns := l.getInt("HTTP_MAX_CONNS")
	maxBodyBytes := l.getInt64("MAX_BODY_BYTES")
	logLevel := strings.ToLower(l.getRequired("LOG_LEVEL"))
	logFormat := strings.ToLower(l.getRequired("LOG_FORMAT"))

	projectID := l.getRequired("PUBSUB_PROJECT_ID")
	topicName := l.getRequired("PUBSUB_TOPIC_NAME")
	dlqTopic := l.get("DLQ_TOPIC_NAME")
	disablePubSub := l.getBool("DISABLE_PUBSUB")
	publishTimeoutMs := l.getInt("PUBLISH_TIMEOUT_MS")
	batchConcurrency := l.getInt("BATCH_CONCURRENCY")
	batchMaxEvents := l.getInt("BATCH_MAX_EVENTS")

	backend, err := broker.ParseBackend(l.get("BUS_BACKEND"))
	if err != nil {
		l.errs.addf("invalid BUS_BACKEND: %v", err)
	}

	schemaStrict := l.getBool("SCHEMA_STRICT")
	eventTypes, err := model.ParseEventTypes(l.get("EVENT_TYPES"))
	if err != nil {
		l.errs.addf("invalid EVENT_TYPES: %v", err)
	}

	kafkaBrokers := parseBrokers(l.get("KAFKA_BROKERS"))
	kafkaAcks := strings.ToLower(l.get("KAFKA_REQUIRED_ACKS"))
	kafkaCompression := strings.ToLower(l.get("KAFKA_COMPRESSION"))
	kafkaEnsureTopics := l.getBool("KAFKA_ENSURE_TOPICS")
	kafkaTopicPartitions := l.getInt("KAFKA_TOPIC_PARTITIONS")
	kafkaDLQPartitions := l.getInt("KAFKA_DLQ_PARTITIONS")
	kafkaReplicationFactor := l.getInt("KAFKA_REPLICATION_FACTOR")
	kafkaRetentionMs := l.getInt64("KAFKA_RETENTION_MS")

	natsURL := l.get("NATS_URL")

	mqttBrokerURL := l.get("MQTT_BROKER_URL")
	mqttClientID := l.get("MQTT_CLIENT_ID")
	mqttUsername := l.get("MQTT_USERNAME")
	mqttPassword := l.v.GetString("MQTT_PASSWORD")
	mqttQoS := l.getInt("MQTT_QOS")

	redisAddr := l.get("REDIS_ADDR")
	redisPassword := l.v.GetString("REDIS_PASSWORD")
	redisDB := l.getInt("REDIS_DB")
	redisMaxLen := l.getInt64("REDIS_MAX_LEN")

	l.oneOf("LOG_LEVEL", logLevel, []string{"debug", "info", "warn", "error"})
	l.oneOf("LOG_FORMAT", logFormat, []string{"json", "console"})

	if httpMaxConns < 0 {
		l.errs.add("HTTP_MAX_CONNS must be >= 0")
	}
	if maxBodyBytes <= 0 {
		l.errs.add("MAX_BODY_BYTES must be > 0")
	}
	if publishTimeoutMs <= 0 {
		l.errs.add("PUBLISH_TIMEOUT_MS must be > 0")
	}
	if batchConcurrency <= 0 {
		l.errs.add("BATCH_CONCURRENCY must be > 0")
	}
	if batchMaxEvents <= 0 {
		l.errs.add("BATCH_MAX_EVENTS must be > 0")
	}
	if dlqTopic != "" && dlqTopic == topicName {
		l.errs.add("DLQ_TOPIC_NAME must differ from PUBSUB_TOPIC_NAME")
	}

	// Transport settings only matter when the bus is actually used.
	if !disablePubSub {
		switch backend {
		case broker.BackendKafka:
			if len(kafkaBrokers) == 0 {
				l.errs.add("KAFKA_BROKERS must list at least 1 broker")
			}
			l.oneOf("KAFKA_REQUIRED_ACKS", kafkaAcks, []string{"none", "one", "all"})
			l.oneOf("KAFKA_COMPRESSION", kafkaCompression, []string{"none", "gzip", "snappy", "lz4", "zstd"})
			if kafkaEnsureTopics {
				if kafkaTopicPartitions <= 0 {
					l.errs.add("KAFKA_TOPIC_PARTITIONS must be > 0")
				}
				if kafkaDLQPartitions <= 0 {
					l.errs.add("KAFKA_DLQ_PARTITIONS must be > 0")
				}
				if kafkaReplicationFactor <= 0 {
					l.errs.add("KAFKA_REPLICATION_FACTOR must be > 0")
				}
				if kafkaReplicationFactor > len(kafkaBrokers) {
					l.errs.add("KAFKA_REPLICATION_FACTOR cannot exceed the number of brokers in KAFKA_BROKERS")
				}
				if kafkaRetentionMs < -1 {
					l.errs.add("KAFKA_RETENTION_MS must be >= -1")
				}
			}
		case broker.BackendNATS:
			if natsURL == "" {
				l.errs.add("NATS_URL cannot be empty")
			}
		case broker.BackendMQTT:
			if mqttBrokerURL == "" {
				l.errs.add("MQTT_BROKER_URL cannot be empty")
			}
			if mqttQoS < 0 || mqttQoS > 2 {
				l.errs.addf("invalid MQTT_QOS (0, 1 or 2): %d", mqttQoS)
			}
		case broker.BackendRedis:
			if redisAddr == "" {
				l.errs.add("REDIS_ADDR cannot be empty")
			}
			if redisDB < 0 {
				l.errs.add("REDIS_DB must be >= 0")
			}
			if redisMaxLen < 0 {
				l.errs.add("REDIS_MAX_LEN must be >= 0")
			}
		}
	}

	if l.errs.has() {
		return nil, &Error{Problems: l.errs}
	}

	return &Config{
		HTTPAddr:     httpAddr,
		HTTPMaxConns: httpMaxConns,
		MaxBodyBytes: maxBodyBytes,
		LogLevel:     logLevel,
		LogFormat:    logFormat,

		ProjectID:        projectID,
		TopicName:        topicName,
		DLQTopic:         dlqTopic,
		DisablePubSub:    disablePubSub,
		Backend:          backend,
		PublishTimeout:   time.Duration(publishTimeoutMs) * time.Millisecond,
		BatchConcurrency: batchConcurrency,

		SchemaStrict:   schemaStrict,
		EventTypes:     eventTypes,
		BatchMaxEvents: batchMaxEvents,

		Kafka: broker.KafkaOptions{
			Brokers:           kafkaBrokers,
			RequiredAcks:      kafkaAcks,
			Compression:       kafkaCompression,
			EnsureTopics:      kafkaEnsureTopics,
			TopicPartitions:   kafkaTopicPartitions,
			DLQPartitions:     kafkaDLQPartitions,
			ReplicationFactor: kafkaReplicationFactor,
			RetentionMs:       kafkaRetentionMs,
		},
		NATS: broker.NATSOptions{URL: natsURL},
		MQTT: broker.MQTTOptions{
			BrokerURL: mqttBrokerURL,
			ClientID:  mqttClientID,
			Username:  mqttUsername,
			Password:  mqttPassword,
			QoS:       byte(mqttQoS),
		},
		Redis: broker.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
			MaxLen:   redisMaxLen,
		},
	}, nil
}
