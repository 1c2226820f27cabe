// Package broker holds the message bus transports the gateway relays events
// to. Every backend satisfies Transport.
package broker

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Message is one record handed to a transport.
type Message struct {
	Topic   string
	Key     []byte
	Payload []byte
	Headers map[string]string
}

// Transport sends a message and returns the id the bus assigned to it.
type Transport interface {
	Publish(ctx context.Context, msg Message) (string, error)
	Close() error
}

type Backend string

const (
	BackendKafka Backend = "kafka"
	BackendNATS  Backend = "nats"
	BackendMQTT  Backend = "mqtt"
	BackendRedis Backend = "redis"
)

var Backends = []Backend{BackendKafka, BackendNATS, BackendMQTT, BackendRedis}

func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown bus backend %q (want one of %v)", s, Backends)
}

// Options carries everything Open needs to build a transport.
type Options struct {
	Backend   Backend
	ProjectID string
	// Topics lists every topic the transport will be asked to publish to.
	Topics []string
	Kafka  KafkaOptions
	NATS   NATSOptions
	MQTT   MQTTOptions
	Redis  RedisOptions
	Logger *zap.Logger
}

// Open connects the configured backend.
func Open(ctx context.Context, opts Options) (Transport, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.With(zap.String("backend", string(opts.Backend)))

	switch opts.Backend {
	case BackendKafka, "":
		return NewKafkaTransport(opts.Kafka, log)
	case BackendNATS:
		return NewNATSTransport(ctx, opts.NATS, opts.ProjectID, opts.Topics, log)
	case BackendMQTT:
		return NewMQTTTransport(ctx, opts.MQTT, opts.ProjectID, log)
	case BackendRedis:
		return NewRedisTransport(ctx, opts.Redis, opts.ProjectID, log)
	default:
		return nil, fmt.Errorf("broker: unsupported backend %q", opts.Backend)
	}
}
