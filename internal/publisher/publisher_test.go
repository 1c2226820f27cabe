package publisher

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jbogacz/beacon-relay-gateway/internal/broker"
	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTransport struct {
	mu     sync.Mutex
	msgs   []broker.Message
	fail   func(msg broker.Message) error
	block  bool
	closed bool
}

func (f *fakeTransport) Publish(ctx context.Context, msg broker.Message) (string, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	n := len(f.msgs)
	fail := f.fail
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail != nil {
		if err := fail(msg); err != nil {
			return "", err
		}
	}
	return "msg-" + string(rune('0'+n%10)), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent() []broker.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.Message(nil), f.msgs...)
}

var fixedNow = time.Date(2025, 6, 28, 6, 40, 6, 0, time.UTC)

func newPublisher(t *testing.T, tr broker.Transport, cfg Config) *Publisher {
	t.Helper()
	p := New(zaptest.NewLogger(t),
		WithFactory(func(context.Context, Config) (broker.Transport, error) { return tr, nil }),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, p.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func event(id, subject string) model.BeaconEvent {
	return model.BeaconEvent{
		ID:        id,
		SubjectID: subject,
		Type:      model.EventEnter,
		Beacon: model.BeaconDescriptor{
			Major:          666,
			SignalStrength: -87,
			Timestamp:      time.Date(2025, 6, 28, 6, 40, 5, 702_000_000, time.UTC),
			UUID:           "e2c56db5-dffb-48d2-b060-d0f5a71096e0",
		},
		Timestamp: time.Date(2025, 6, 28, 6, 40, 5, 703_000_000, time.UTC),
	}
}

func TestPublishBeforeInitialize(t *testing.T) {
	p := New(zaptest.NewLogger(t))
	assert.False(t, p.Ready())

	_, err := p.Publish(context.Background(), event("1", "s"))
	require.Error(t, err)
	assert.Equal(t, errors.KindNotInitialized, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrNotInitialized))

	_, err = p.PublishBatch(context.Background(), []model.BeaconEvent{event("1", "s")})
	assert.Equal(t, errors.KindNotInitialized, errors.KindOf(err))

	assert.NoError(t, p.PublishRejected(context.Background(), "validate", []byte("{"), nil))
}

func TestPublishSendsEventJSONKeyedBySubject(t *testing.T) {
	tr := &fakeTransport{}
	p := newPublisher(t, tr, Config{ProjectID: "proj", TopicName: "beacons"})

	evt := event("1", "default_subject")
	id, err := p.Publish(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	sent := tr.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "beacons", sent[0].Topic)
	assert.Equal(t, []byte("default_subject"), sent[0].Key)

	var decoded model.BeaconEvent
	require.NoError(t, json.Unmarshal(sent[0].Payload, &decoded))
	assert.Equal(t, evt, decoded)

	assert.Equal(t, map[string]string{
		"eventType":  "ENTER",
		"subjectId":  "default_subject",
		"beaconUuid": "e2c56db5-dffb-48d2-b060-d0f5a71096e0",
		"proximity":  "far",
		"receivedAt": "2025-06-28T06:40:06Z",
	}, sent[0].Headers)
}

func TestInitializeIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	p := newPublisher(t, tr, Config{ProjectID: "first", TopicName: "beacons"})

	require.NoError(t, p.Initialize(context.Background(), Config{ProjectID: "second", TopicName: "other"}))
	require.NoError(t, p.Initialize(context.Background(), Config{ProjectID: "first", TopicName: "beacons"}))
	assert.Equal(t, "beacons", p.Topic())

	_, err := p.Publish(context.Background(), event("1", "s"))
	require.NoError(t, err)
	assert.Equal(t, "beacons", tr.sent()[0].Topic)
}

func TestConcurrentInitializeBuildsOneTransport(t *testing.T) {
	var built atomic.Int32
	p := New(zaptest.NewLogger(t), WithFactory(func(context.Context, Config) (broker.Transport, error) {
		built.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &fakeTransport{}, nil
	}))
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Initialize(context.Background(), Config{TopicName: "beacons"}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), built.Load())
	assert.True(t, p.Ready())
}

func TestInitializeFailureLeavesPublisherUninitialized(t *testing.T) {
	calls := 0
	p := New(zaptest.NewLogger(t), WithFactory(func(context.Context, Config) (broker.Transport, error) {
		calls++
		if calls == 1 {
			return nil, stderrors.New("connection refused")
		}
		return &fakeTransport{}, nil
	}))
	defer p.Close()

	err := p.Initialize(context.Background(), Config{TopicName: "beacons"})
	assert.ErrorContains(t, err, "connection refused")
	assert.False(t, p.Ready())

	require.NoError(t, p.Initialize(context.Background(), Config{TopicName: "beacons"}))
	assert.True(t, p.Ready())
}

func TestDisabledPublishingIsDeterministic(t *testing.T) {
	p := New(zaptest.NewLogger(t))
	require.NoError(t, p.Initialize(context.Background(), Config{TopicName: "beacons", DisablePublishing: true}))
	defer p.Close()

	evt := event("1", "default_subject")
	a, err := p.Publish(context.Background(), evt)
	require.NoError(t, err)
	b, err := p.Publish(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	_, err = uuid.Parse(a)
	assert.NoError(t, err)
}

func TestPublishTransportError(t *testing.T) {
	tr := &fakeTransport{fail: func(broker.Message) error { return stderrors.New("broker unreachable") }}
	p := newPublisher(t, tr, Config{TopicName: "beacons"})

	_, err := p.Publish(context.Background(), event("1", "s"))
	require.Error(t, err)
	assert.Equal(t, errors.KindPublishTransport, errors.KindOf(err))
	assert.ErrorContains(t, err, "broker unreachable")
	assert.Len(t, tr.sent(), 1, "publish must not be retried")
}

func TestPublishTimeout(t *testing.T) {
	tr := &fakeTransport{block: true}
	p := newPublisher(t, tr, Config{TopicName: "beacons", PublishTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := p.Publish(context.Background(), event("1", "s"))
	require.Error(t, err)
	assert.Equal(t, errors.KindPublishTimeout, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublishBatchAttemptsEveryEvent(t *testing.T) {
	tr := &fakeTransport{fail: func(msg broker.Message) error {
		if string(msg.Key) == "subject-3" {
			return stderrors.New("rejected")
		}
		return nil
	}}
	p := newPublisher(t, tr, Config{TopicName: "beacons", BatchConcurrency: 2})

	events := []model.BeaconEvent{
		event("e1", "subject-1"),
		event("e2", "subject-2"),
		event("e3", "subject-3"),
		event("e4", "subject-4"),
		event("e5", "subject-5"),
	}
	results, err := p.PublishBatch(context.Background(), events)
	require.Error(t, err)
	assert.Equal(t, errors.KindPublishTransport, errors.KindOf(err))
	assert.ErrorContains(t, err, "1 of 5 events failed")

	require.Len(t, results, 5)
	assert.Len(t, tr.sent(), 5)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, events[i].ID, r.ID)
		if i == 2 {
			assert.Error(t, r.Err)
			assert.Empty(t, r.MessageID)
			continue
		}
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.MessageID)
	}
}

func TestPublishBatchAllSucceed(t *testing.T) {
	tr := &fakeTransport{}
	p := newPublisher(t, tr, Config{TopicName: "beacons"})

	results, err := p.PublishBatch(context.Background(), []model.BeaconEvent{event("a", "s"), event("b", "s")})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestPublishRejected(t *testing.T) {
	t.Run("no dead-letter topic", func(t *testing.T) {
		tr := &fakeTransport{}
		p := newPublisher(t, tr, Config{TopicName: "beacons"})

		require.NoError(t, p.PublishRejected(context.Background(), "validate", []byte("{"), stderrors.New("x")))
		assert.Empty(t, tr.sent())
	})

	t.Run("forwards envelope", func(t *testing.T) {
		tr := &fakeTransport{}
		p := newPublisher(t, tr, Config{TopicName: "beacons", DLQTopic: "beacons.dlq"})

		cause := errors.SchemaViolation("validate", []model.ValidationIssue{{Path: "/type", Keyword: "enum"}})
		require.NoError(t, p.PublishRejected(context.Background(), "validate", []byte(`{"type":"X"}`), cause))

		sent := tr.sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "beacons.dlq", sent[0].Topic)
		assert.Equal(t, "schema_violation", sent[0].Headers["errorKind"])

		var rec Rejected
		require.NoError(t, json.Unmarshal(sent[0].Payload, &rec))
		assert.Equal(t, `{"type":"X"}`, rec.Original)
		assert.Equal(t, "validate", rec.Stage)
		assert.Equal(t, "schema_violation", rec.Kind)
		assert.Equal(t, "2025-06-28T06:40:06.000Z", rec.ReceivedAt)
		require.Len(t, rec.ValidationErrors, 1)
		assert.Equal(t, "/type", rec.ValidationErrors[0].Path)
	})

	t.Run("failure is reported", func(t *testing.T) {
		tr := &fakeTransport{fail: func(broker.Message) error { return stderrors.New("down") }}
		p := newPublisher(t, tr, Config{TopicName: "beacons", DLQTopic: "beacons.dlq"})

		err := p.PublishRejected(context.Background(), "decode", []byte("{"), errors.New(errors.KindInvalidJSON, "validate", stderrors.New("eof")))
		assert.ErrorContains(t, err, "down")
	})
}

func TestCloseReleasesTransport(t *testing.T) {
	tr := &fakeTransport{}
	p := New(zaptest.NewLogger(t), WithFactory(func(context.Context, Config) (broker.Transport, error) { return tr, nil }))
	require.NoError(t, p.Initialize(context.Background(), Config{TopicName: "beacons"}))

	require.NoError(t, p.Close())
	assert.True(t, tr.closed)
	assert.False(t, p.Ready())
	assert.NoError(t, p.Close())
}

func TestConfigTopics(t *testing.T) {
	assert.Equal(t, []string{"a"}, Config{TopicName: "a"}.Topics())
	assert.Equal(t, []string{"a", "a.dlq"}, Config{TopicName: "a", DLQTopic: "a.dlq"}.Topics())

	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultPublishTimeout, cfg.PublishTimeout)
	assert.Equal(t, DefaultBatchConcurrency, cfg.BatchConcurrency)
}
