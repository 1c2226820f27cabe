package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

type NATSOptions struct {
	URL string
}

// NATSTransport publishes to JetStream. Topics are used verbatim as subjects
// and captured by one stream named after the project.
type NATSTransport struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
	log    *zap.Logger
}

func NewNATSTransport(ctx context.Context, opts NATSOptions, projectID string, topics []string, log *zap.Logger) (*NATSTransport, error) {
	conn, err := nats.Connect(opts.URL,
		nats.Name("beacon-relay"),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", opts.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream := StreamName(projectID)
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: topics,
		Storage:  jetstream.FileStorage,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream stream %s: %w", stream, err)
	}
	log.Info("jetstream stream ready", zap.String("stream", stream), zap.Strings("subjects", topics))

	return &NATSTransport{conn: conn, js: js, stream: stream, log: log}, nil
}

func (t *NATSTransport) Publish(ctx context.Context, msg Message) (string, error) {
	m := nats.NewMsg(msg.Topic)
	m.Data = msg.Payload
	for k, v := range msg.Headers {
		m.Header.Set(k, v)
	}
	if len(msg.Key) > 0 {
		m.Header.Set("key", string(msg.Key))
	}

	ack, err := t.js.PublishMsg(ctx, m)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence), nil
}

func (t *NATSTransport) Close() error {
	return t.conn.Drain()
}

var streamNameReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "/", "_", "\\", "_")

// StreamName maps a project id onto a valid JetStream stream name.
func StreamName(projectID string) string {
	name := streamNameReplacer.Replace(strings.TrimSpace(projectID))
	if name == "" {
		return "BEACONS"
	}
	return strings.ToUpper(name)
}
