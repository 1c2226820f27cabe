// Package handler is the HTTP boundary of the gateway: it reads a request,
// validates it, hands the event to the publisher and renders the outcome.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/metrics"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
	"github.com/jbogacz/beacon-relay-gateway/internal/publisher"
	"github.com/jbogacz/beacon-relay-gateway/internal/validate"
)

const (
	routeEvents = "/beacon-events"
	routeBatch  = "/beacon-events/batch"

	logPayloadBytes = 512
)

// EventPublisher is the part of *publisher.Publisher the handler needs.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.BeaconEvent) (string, error)
	PublishBatch(ctx context.Context, events []model.BeaconEvent) ([]publisher.BatchResult, error)
	PublishRejected(ctx context.Context, stage string, raw []byte, cause error) error
	Ready() bool
}

type Options struct {
	MaxBodyBytes int64
	Metrics      *metrics.Metrics
	// Now and NewID are overridden in tests.
	Now   func() time.Time
	NewID func() string
}

type Handler struct {
	validator *validate.Validator
	pub       EventPublisher
	log       *zap.Logger
	metrics   *metrics.Metrics

	maxBodyBytes int64
	now          func() time.Time
	newID        func() string

	forwards sync.WaitGroup
}

func New(v *validate.Validator, pub EventPublisher, log *zap.Logger, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		validator:    v,
		pub:          pub,
		log:          log.Named("handler"),
		metrics:      opts.Metrics,
		maxBodyBytes: opts.MaxBodyBytes,
		now:          opts.Now,
		newID:        opts.NewID,
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = 1 << 20
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.newID == nil {
		h.newID = uuid.NewString
	}
	return h
}

// Routes builds the router serving every gateway endpoint. Responses are
// gzip compressed for clients that accept it.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusNotFound, model.EventResponse{
			Error:       fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
			ProcessedAt: model.Timestamp(h.now()),
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusMethodNotAllowed, model.EventResponse{
			Error:       fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
			ProcessedAt: model.Timestamp(h.now()),
		})
	})

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Get(routeEvents, h.describe)
	r.Post(routeEvents, h.createEvent)
	r.Post(routeBatch, h.createBatch)
	return gzhttp.GzipHandler(r)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.requestLogger(r)

	raw, err := h.readBody(w, r)
	if err != nil {
		h.reject(w, r, log, routeEvents, start, raw, err)
		return
	}
	log.Info("event received", zap.Int("bytes", len(raw)))
	log.Debug("event payload", zap.String("payload", validate.Truncate(raw, logPayloadBytes)))

	evt, err := h.validator.Validate(raw)
	if err != nil {
		h.reject(w, r, log, routeEvents, start, raw, err)
		return
	}
	log = log.With(zap.String("event_id", evt.ID), zap.String("subject_id", evt.SubjectID))
	log.Info("event validated",
		zap.String("type", string(evt.Type)),
		zap.String("beacon_uuid", evt.Beacon.UUID),
		zap.String("beacon", fmt.Sprintf("%d:%d", evt.Beacon.Major, evt.Beacon.Minor)),
		zap.String("proximity", string(model.EstimateProximity(evt.Beacon.SignalStrength))))

	// The publish outlives a client disconnect; it is bounded by the
	// publisher's own timeout instead.
	messageID, err := h.pub.Publish(context.WithoutCancel(r.Context()), evt)
	if err != nil {
		h.fail(w, log, routeEvents, start, err)
		return
	}
	log.Info("event published", zap.String("message_id", messageID))
	h.metrics.Event(string(evt.Type))
	h.metrics.Request(routeEvents, metrics.OutcomePublished, time.Since(start))

	h.writeJSON(w, http.StatusCreated, model.EventResponse{
		Success:     true,
		EventID:     h.newID(),
		MessageID:   messageID,
		Message:     fmt.Sprintf("Beacon %s event processed successfully", evt.Type),
		ProcessedAt: model.Timestamp(h.now()),
		Data:        model.Summarize(evt),
	})
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := h.requestLogger(r)

	raw, err := h.readBody(w, r)
	if err != nil {
		h.reject(w, r, log, routeBatch, start, raw, err)
		return
	}
	req, err := h.validator.ValidateBatch(raw)
	if err != nil {
		h.reject(w, r, log, routeBatch, start, raw, err)
		return
	}
	if req.BatchID == "" {
		req.BatchID = h.newID()
	}
	log = log.With(zap.String("batch_id", req.BatchID))
	log.Info("batch validated", zap.Int("events", len(req.Events)))

	results, err := h.pub.PublishBatch(context.WithoutCancel(r.Context()), req.Events)
	if err != nil && len(results) == 0 {
		h.fail(w, log, routeBatch, start, err)
		return
	}

	resp := model.BatchResponse{
		Success: err == nil,
		BatchID: req.BatchID,
		Results: make([]model.BatchItemResult, len(results)),
	}
	for i, res := range results {
		item := model.BatchItemResult{Index: res.Index, ID: res.ID, MessageID: res.MessageID}
		if res.Err != nil {
			item.Error = errors.As(res.Err).Summary()
			resp.Failed++
		} else {
			resp.Accepted++
			h.metrics.Event(string(req.Events[i].Type))
		}
		resp.Results[i] = item
	}
	resp.ProcessedAt = model.Timestamp(h.now())

	status := http.StatusCreated
	outcome := metrics.OutcomePublished
	if err != nil {
		status = errors.HTTPStatus(errors.KindOf(err))
		outcome = metrics.OutcomePublishFailed
		resp.Error = fmt.Sprintf("%d of %d events failed to publish", resp.Failed, len(results))
		log.Error("batch partially published",
			zap.Int("accepted", resp.Accepted),
			zap.Int("failed", resp.Failed),
			zap.Error(err))
	} else {
		log.Info("batch published", zap.Int("accepted", resp.Accepted))
	}
	h.metrics.Request(routeBatch, outcome, time.Since(start))
	h.writeJSON(w, status, resp)
}

// readBody reads at most maxBodyBytes. Oversized and unreadable bodies are
// reported as invalid JSON.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return raw, errors.Wrapf(errors.KindInvalidJSON, "read body", err, "limit %d bytes", h.maxBodyBytes)
	}
	return raw, nil
}

// reject answers a request whose body failed validation and forwards the
// body to the dead-letter topic in the background.
func (h *Handler) reject(w http.ResponseWriter, r *http.Request, log *zap.Logger, route string, start time.Time, raw []byte, err error) {
	ge := errors.As(err)
	resp := model.EventResponse{
		Error:            ge.Summary(),
		ProcessedAt:      model.Timestamp(h.now()),
		ValidationErrors: ge.Issues,
	}

	outcome := metrics.OutcomeInvalidJSON
	stage := "decode"
	if ge.Kind == errors.KindSchemaViolation {
		outcome = metrics.OutcomeSchemaViolation
		stage = "validate"
		for _, is := range ge.Issues {
			h.metrics.ValidationFailure(is.Keyword)
		}
	}
	log.Warn("event rejected",
		zap.String("stage", stage),
		zap.Int("violations", len(ge.Issues)),
		zap.Strings("paths", issuePaths(ge.Issues)),
		zap.Error(err))
	h.metrics.Request(route, outcome, time.Since(start))
	h.writeJSON(w, errors.HTTPStatus(ge.Kind), resp)

	ctx := context.WithoutCancel(r.Context())
	h.forwards.Add(1)
	go func() {
		defer h.forwards.Done()
		_ = h.pub.PublishRejected(ctx, stage, raw, err)
	}()
}

// Wait blocks until every dead-letter forward started by reject has
// finished. Each forward is bounded by the publisher's timeout.
func (h *Handler) Wait() {
	h.forwards.Wait()
}

// fail answers a request whose event could not be relayed.
func (h *Handler) fail(w http.ResponseWriter, log *zap.Logger, route string, start time.Time, err error) {
	ge := errors.As(err)
	log.Error("event publish failed", zap.Stringer("kind", ge.Kind), zap.Error(err))

	outcome := metrics.OutcomePublishFailed
	if ge.Kind == errors.KindInternal {
		outcome = metrics.OutcomeInternal
	}
	h.metrics.Request(route, outcome, time.Since(start))
	h.writeJSON(w, errors.HTTPStatus(ge.Kind), model.EventResponse{
		Error:       ge.Summary(),
		ProcessedAt: model.Timestamp(h.now()),
	})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.pub.Ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "publisher not initialized"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// recoverer turns a panic into an internal error response. The panic value
// and stack go to the log only.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.requestLogger(r).Error("panic serving request",
				zap.Any("panic", rec),
				zap.Stack("stack"))
			h.metrics.Request(routeLabel(r), metrics.OutcomeInternal, 0)
			h.writeJSON(w, errors.HTTPStatus(errors.KindInternal), model.EventResponse{
				Error:       errors.MsgInternal,
				ProcessedAt: model.Timestamp(h.now()),
			})
		}()
		next.ServeHTTP(w, r)
	})
}

// routeLabel is the matched route pattern, never the raw path.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return h.log.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("route", r.URL.Path))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("write response", zap.Error(err))
	}
}

func issuePaths(issues []model.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Path)
	}
	return out
}

func joinTypes(types []model.EventType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ", ")
}
