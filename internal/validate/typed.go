package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

// typed builds model values from a validated instance. Only the declared
// property names are read, matched exactly, so extra keys accepted in
// lenient mode never reach the event. Values the schema accepts but Go
// cannot hold are collected as issues at their own path.
type typed struct {
	issues []model.ValidationIssue
}

func (t *typed) batch(obj map[string]any) model.BatchRequest {
	req := model.BatchRequest{}
	if id, ok := obj["batchId"].(string); ok {
		req.BatchID = id
	}
	items, _ := obj["events"].([]any)
	req.Events = make([]model.BeaconEvent, len(items))
	for i, item := range items {
		evt, _ := item.(map[string]any)
		req.Events[i] = t.event(evt, "/events/"+strconv.Itoa(i))
	}
	return req
}

func (t *typed) event(obj map[string]any, at string) model.BeaconEvent {
	b, _ := obj["beacon"].(map[string]any)
	bt := at + "/beacon"
	return model.BeaconEvent{
		ID:        t.str(obj, at, "id"),
		SubjectID: t.str(obj, at, "subjectId"),
		Type:      model.EventType(t.str(obj, at, "type")),
		Timestamp: t.time(obj, at, "timestamp"),
		Beacon: model.BeaconDescriptor{
			Major:          t.integer(b, bt, "major"),
			Minor:          t.integer(b, bt, "minor"),
			SignalStrength: t.number(b, bt, "signalStrength"),
			Timestamp:      t.time(b, bt, "timestamp"),
			UUID:           t.str(b, bt, "uuid"),
		},
	}
}

func (t *typed) fail(path, keyword, format string, args ...any) {
	t.issues = append(t.issues, model.ValidationIssue{
		Path:    path,
		Keyword: keyword,
		Message: fmt.Sprintf(format, args...),
	})
}

func (t *typed) str(obj map[string]any, at, name string) string {
	s, ok := obj[name].(string)
	if !ok {
		t.fail(at+"/"+name, "type", "expected string, got %T", obj[name])
	}
	return s
}

func (t *typed) number(obj map[string]any, at, name string) float64 {
	n, ok := obj[name].(json.Number)
	if !ok {
		t.fail(at+"/"+name, "type", "expected number, got %T", obj[name])
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		t.fail(at+"/"+name, "type", "number %s out of range", n)
	}
	return f
}

// integer accepts any integral number, including forms such as 666.0 and
// 6.66e2.
func (t *typed) integer(obj map[string]any, at, name string) int {
	n, ok := obj[name].(json.Number)
	if !ok {
		t.fail(at+"/"+name, "type", "expected integer, got %T", obj[name])
		return 0
	}
	if i, err := n.Int64(); err == nil && i >= math.MinInt32 && i <= math.MaxInt32 {
		return int(i)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		t.fail(at+"/"+name, "type", "%s is not a representable integer", n)
		return 0
	}
	return int(f)
}

func (t *typed) time(obj map[string]any, at, name string) time.Time {
	s := t.str(obj, at, name)
	if s == "" {
		return time.Time{}
	}
	// date-time allows a lowercase t and z separator.
	ts, err := time.Parse(time.RFC3339Nano, strings.ToUpper(s))
	if err != nil {
		t.fail(at+"/"+name, "format", "date-time %q cannot be represented: %v", s, err)
	}
	return ts
}
