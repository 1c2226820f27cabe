package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// MaxLen caps each stream approximately; zero leaves it unbounded.
	MaxLen int64
}

// RedisTransport appends events to the stream <projectId>:<topic>.
type RedisTransport struct {
	client *redis.Client
	prefix string
	maxLen int64
	log    *zap.Logger
}

func NewRedisTransport(ctx context.Context, opts RedisOptions, projectID string, log *zap.Logger) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &RedisTransport{client: client, prefix: projectID, maxLen: opts.MaxLen, log: log}, nil
}

func (t *RedisTransport) Stream(topic string) string {
	if t.prefix == "" {
		return topic
	}
	return t.prefix + ":" + topic
}

func (t *RedisTransport) Publish(ctx context.Context, msg Message) (string, error) {
	return t.client.XAdd(ctx, xaddArgs(t.Stream(msg.Topic), t.maxLen, msg)).Result()
}

func xaddArgs(stream string, maxLen int64, msg Message) *redis.XAddArgs {
	values := make(map[string]any, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		values[k] = v
	}
	values["key"] = string(msg.Key)
	values["payload"] = string(msg.Payload)

	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return args
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}
