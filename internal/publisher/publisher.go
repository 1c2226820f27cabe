// Package publisher owns the bus transport and relays validated beacon events
// to it. A Publisher is built once at startup and shared by every request.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbogacz/beacon-relay-gateway/internal/broker"
	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/metrics"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

const (
	DefaultPublishTimeout   = 5 * time.Second
	DefaultBatchConcurrency = 8

	roleMain = "main"
	roleDLQ  = "dlq"
)

type Config struct {
	ProjectID         string
	TopicName         string
	DLQTopic          string
	DisablePublishing bool
	PublishTimeout    time.Duration
	BatchConcurrency  int
	Transport         broker.Options
}

// Topics lists the main topic and, when configured, the dead-letter topic.
func (c Config) Topics() []string {
	if c.DLQTopic == "" {
		return []string{c.TopicName}
	}
	return []string{c.TopicName, c.DLQTopic}
}

func (c Config) withDefaults() Config {
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
	return c
}

// Factory builds the transport during Initialize.
type Factory func(ctx context.Context, cfg Config) (broker.Transport, error)

// OpenTransport is the default Factory.
func OpenTransport(ctx context.Context, cfg Config) (broker.Transport, error) {
	if cfg.DisablePublishing {
		return broker.NewDisabled(), nil
	}
	opts := cfg.Transport
	opts.ProjectID = cfg.ProjectID
	opts.Topics = cfg.Topics()
	return broker.Open(ctx, opts)
}

type state struct {
	cfg       Config
	transport broker.Transport
}

type Publisher struct {
	mu    sync.Mutex
	state atomic.Pointer[state]

	factory Factory
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Publisher)

func WithFactory(f Factory) Option { return func(p *Publisher) { p.factory = f } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Publisher) { p.metrics = m } }

func WithClock(now func() time.Time) Option { return func(p *Publisher) { p.now = now } }

func New(log *zap.Logger, opts ...Option) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		factory: OpenTransport,
		log:     log.Named("publisher"),
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Initialize builds the transport. Only the first successful call has an
// effect; later calls log a warning and keep the original configuration.
func (p *Publisher) Initialize(ctx context.Context, cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st := p.state.Load(); st != nil {
		p.log.Warn("publisher already initialized, ignoring",
			zap.String("project_id", st.cfg.ProjectID),
			zap.String("topic", st.cfg.TopicName),
			zap.String("requested_topic", cfg.TopicName))
		return nil
	}

	cfg = cfg.withDefaults()
	transport, err := p.factory(ctx, cfg)
	if err != nil {
		return fmt.Errorf("publisher: open %s transport: %w", cfg.Transport.Backend, err)
	}
	p.state.Store(&state{cfg: cfg, transport: transport})

	p.log.Info("publisher initialized",
		zap.String("project_id", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
		zap.String("dlq_topic", cfg.DLQTopic),
		zap.Bool("disabled", cfg.DisablePublishing),
		zap.Duration("timeout", cfg.PublishTimeout))
	return nil
}

func (p *Publisher) Ready() bool { return p.state.Load() != nil }

// Topic returns the configured main topic, or "" before Initialize.
func (p *Publisher) Topic() string {
	if st := p.state.Load(); st != nil {
		return st.cfg.TopicName
	}
	return ""
}

// Publish sends one event to the main topic, keyed by subject id. It is
// attempted once.
func (p *Publisher) Publish(ctx context.Context, evt model.BeaconEvent) (string, error) {
	const op = "publish"
	st := p.state.Load()
	if st == nil {
		return "", errors.New(errors.KindNotInitialized, op, errors.ErrNotInitialized)
	}
	return p.publishEvent(ctx, st, op, evt)
}

func (p *Publisher) publishEvent(ctx context.Context, st *state, op string, evt model.BeaconEvent) (string, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", errors.Wrapf(errors.KindInternal, op, err, "encode event %s", evt.ID)
	}
	msg := broker.Message{
		Topic:   st.cfg.TopicName,
		Key:     []byte(evt.SubjectID),
		Payload: payload,
		Headers: evt.Headers(p.now()),
	}

	id, err := p.send(ctx, st, op, roleMain, msg)
	if err != nil {
		p.log.Error("publish failed",
			zap.String("event_id", evt.ID),
			zap.String("subject_id", evt.SubjectID),
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return "", err
	}
	p.log.Debug("event published",
		zap.String("event_id", evt.ID),
		zap.String("message_id", id),
		zap.String("topic", msg.Topic),
		zap.String("proximity", msg.Headers["proximity"]))
	return id, nil
}

// send performs a single bounded transport call and classifies its failure.
func (p *Publisher) send(ctx context.Context, st *state, op, role string, msg broker.Message) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, st.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	id, err := st.transport.Publish(tctx, msg)
	p.metrics.Publish(role, err, time.Since(start))
	if err == nil {
		return id, nil
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return "", errors.New(errors.KindPublishTimeout, op,
			fmt.Errorf("%w after %s on topic %s: %w", errors.ErrTimeout, st.cfg.PublishTimeout, msg.Topic, err))
	}
	return "", errors.Wrapf(errors.KindPublishTransport, op, err, "topic %s", msg.Topic)
}

// BatchResult is the outcome of one event of a batch.
type BatchResult struct {
	Index     int
	ID        string
	MessageID string
	Err       error
}

// PublishBatch gives every event its own attempt, bounded by the configured
// concurrency. Results are returned in input order even when some fail; the
// error is non-nil if at least one event failed.
func (p *Publisher) PublishBatch(ctx context.Context, events []model.BeaconEvent) ([]BatchResult, error) {
	const op = "publish batch"
	st := p.state.Load()
	if st == nil {
		return nil, errors.New(errors.KindNotInitialized, op, errors.ErrNotInitialized)
	}

	results := make([]BatchResult, len(events))
	var g errgroup.Group
	g.SetLimit(st.cfg.BatchConcurrency)
	for i, evt := range events {
		i, evt := i, evt // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			id, err := p.publishEvent(ctx, st, op, evt)
			results[i] = BatchResult{Index: i, ID: evt.ID, MessageID: id, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, errors.New(errors.KindPublishTransport, op,
			fmt.Errorf("%d of %d events failed", failed, len(events)))
	}
	return results, nil
}

// Rejected is the dead-letter record for a payload that failed validation.
type Rejected struct {
	Error            string                  `json:"error"`
	Kind             string                  `json:"kind"`
	Stage            string                  `json:"stage"`
	Original         string                  `json:"original"`
	ReceivedAt       string                  `json:"receivedAt"`
	ValidationErrors []model.ValidationIssue `json:"validationErrors,omitempty"`
}

// PublishRejected forwards a rejected body to the dead-letter topic. It does
// nothing when no such topic is configured. Failures are logged and returned
// for the caller's information only.
func (p *Publisher) PublishRejected(ctx context.Context, stage string, raw []byte, cause error) error {
	const op = "publish rejected"
	st := p.state.Load()
	if st == nil || st.cfg.DLQTopic == "" {
		return nil
	}

	ge := errors.As(cause)
	now := p.now()
	rec := Rejected{
		Stage:      stage,
		Original:   string(raw),
		ReceivedAt: model.Timestamp(now),
	}
	if ge != nil {
		rec.Error = ge.Error()
		rec.Kind = ge.Kind.String()
		rec.ValidationErrors = ge.Issues
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrapf(errors.KindInternal, op, err, "encode dead letter")
	}

	_, err = p.send(ctx, st, op, roleDLQ, broker.Message{
		Topic:   st.cfg.DLQTopic,
		Payload: payload,
		Headers: map[string]string{
			"stage":      stage,
			"errorKind":  rec.Kind,
			"receivedAt": rec.ReceivedAt,
		},
	})
	p.metrics.Forwarded(err)
	if err != nil {
		p.log.Warn("dead-letter forward failed", zap.String("stage", stage), zap.Error(err))
		return err
	}
	p.log.Info("rejected payload sent to dead-letter topic",
		zap.String("stage", stage),
		zap.String("topic", st.cfg.DLQTopic))
	return nil
}

// Close releases the transport. The publisher reports not ready afterwards.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.state.Swap(nil)
	if st == nil {
		return nil
	}
	return st.transport.Close()
}
