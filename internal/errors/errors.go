// Package errors defines the closed set of failure kinds the gateway can
// produce and how each one maps onto the HTTP contract.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

// Kind classifies a failure. The set is closed: every Kind must be handled
// by HTTPStatus and String.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidJSON
	KindSchemaViolation
	KindNotInitialized
	KindPublishTransport
	KindPublishTimeout
)

// Kinds lists every Kind, in declaration order.
var Kinds = []Kind{
	KindInternal,
	KindInvalidJSON,
	KindSchemaViolation,
	KindNotInitialized,
	KindPublishTransport,
	KindPublishTimeout,
}

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindInvalidJSON:
		return "invalid_json"
	case KindSchemaViolation:
		return "schema_violation"
	case KindNotInitialized:
		return "not_initialized"
	case KindPublishTransport:
		return "publish_transport"
	case KindPublishTimeout:
		return "publish_timeout"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the response status for a failure kind.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalidJSON, KindSchemaViolation:
		return http.StatusBadRequest
	case KindNotInitialized, KindPublishTransport, KindPublishTimeout, KindInternal:
		return http.StatusInternalServerError
	default:
		panic(fmt.Sprintf("errors: unmapped kind %d", int(k)))
	}
}

// Client-safe summaries. Internal detail stays in Err and the logs.
const (
	MsgInvalidJSON      = "Invalid JSON payload"
	MsgValidationFailed = "Validation failed"
	MsgPublishFailed    = "Failed to publish event"
	MsgNotInitialized   = "Publisher not initialized"
	MsgInternal         = "Internal server error"
)

var (
	ErrNotInitialized = stderrors.New("publisher must be initialized before use")
	ErrTimeout        = stderrors.New("publish timed out")
)

// Error is the typed failure carried through the pipeline.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Issues []model.ValidationIssue
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Summary is the short human readable message safe to return to callers.
func (e *Error) Summary() string {
	switch e.Kind {
	case KindInvalidJSON:
		return MsgInvalidJSON
	case KindSchemaViolation:
		return MsgValidationFailed
	case KindNotInitialized:
		return MsgNotInitialized
	case KindPublishTransport, KindPublishTimeout:
		return MsgPublishFailed
	default:
		return MsgInternal
	}
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Wrapf(kind Kind, op string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}

func SchemaViolation(op string, issues []model.ValidationIssue) *Error {
	return &Error{
		Kind:   KindSchemaViolation,
		Op:     op,
		Err:    fmt.Errorf("%d constraint(s) violated", len(issues)),
		Issues: issues,
	}
}

// As extracts the gateway error from err. Anything else is reported as an
// internal error wrapping err.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Err: err}
}

// KindOf reports the kind of err; nil reports KindInternal.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.Kind
	}
	return KindInternal
}

func Is(err, target error) bool { return stderrors.Is(err, target) }
