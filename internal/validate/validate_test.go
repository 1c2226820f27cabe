package validate

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
)

const minimalEvent = `{
  "timestamp": "2025-06-28T06:40:05.703Z",
  "subjectId": "default_subject",
  "id": "1",
  "beacon": {
    "major": 666, "minor": 0, "signalStrength": -87,
    "timestamp": "2025-06-28T06:40:05.702Z",
    "uuid": "e2c56db5-dffb-48d2-b060-d0f5a71096e0"
  },
  "type": "ENTER"
}`

func newValidator(t *testing.T, opts schema.Options) *Validator {
	t.Helper()
	s, err := schema.New(opts)
	require.NoError(t, err)
	return New(s)
}

// mutate decodes the minimal event, applies fn and re-encodes it.
func mutate(t *testing.T, fn func(evt map[string]any)) []byte {
	t.Helper()
	var evt map[string]any
	require.NoError(t, json.Unmarshal([]byte(minimalEvent), &evt))
	fn(evt)
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func beacon(evt map[string]any) map[string]any { return evt["beacon"].(map[string]any) }

func requireViolation(t *testing.T, err error) []model.ValidationIssue {
	t.Helper()
	require.Error(t, err)
	ge := errors.As(err)
	require.Equal(t, errors.KindSchemaViolation, ge.Kind, "error: %v", err)
	require.NotEmpty(t, ge.Issues)
	return ge.Issues
}

func paths(issues []model.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Path
	}
	return out
}

func TestValidateMinimalExample(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	evt, err := v.Validate([]byte(minimalEvent))
	require.NoError(t, err)

	assert.Equal(t, "default_subject", evt.SubjectID)
	assert.Equal(t, model.EventEnter, evt.Type)
	assert.Equal(t, "e2c56db5-dffb-48d2-b060-d0f5a71096e0", evt.Beacon.UUID)
	assert.Equal(t, "1", evt.ID)
	assert.Equal(t, 666, evt.Beacon.Major)
	assert.Equal(t, 0, evt.Beacon.Minor)
	assert.Equal(t, -87.0, evt.Beacon.SignalStrength)
	assert.Equal(t, time.Date(2025, 6, 28, 6, 40, 5, 703_000_000, time.UTC), evt.Timestamp.UTC())
	assert.Equal(t, time.Date(2025, 6, 28, 6, 40, 5, 702_000_000, time.UTC), evt.Beacon.Timestamp.UTC())
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	for _, body := range []string{`{"subjectId":`, ``, `   `, `{"a":1} trailing`, `not json`} {
		_, err := v.Validate([]byte(body))
		require.Error(t, err, body)
		assert.Equal(t, errors.KindInvalidJSON, errors.KindOf(err), body)
	}
}

func TestValidateFieldBounds(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(evt map[string]any)
		path    string
		keyword string
	}{
		{"major above range", func(e map[string]any) { beacon(e)["major"] = 65536 }, "/beacon/major", "maximum"},
		{"major negative", func(e map[string]any) { beacon(e)["major"] = -1 }, "/beacon/major", "minimum"},
		{"minor above range", func(e map[string]any) { beacon(e)["minor"] = 70000 }, "/beacon/minor", "maximum"},
		{"minor fractional", func(e map[string]any) { beacon(e)["minor"] = 1.5 }, "/beacon/minor", "type"},
		{"uuid malformed", func(e map[string]any) { beacon(e)["uuid"] = "not-a-uuid" }, "/beacon/uuid", "format"},
		{"uuid wrong type", func(e map[string]any) { beacon(e)["uuid"] = 12 }, "/beacon/uuid", "type"},
		{"unknown type", func(e map[string]any) { e["type"] = "LINGER" }, "/type", "enum"},
		{"lowercase type", func(e map[string]any) { e["type"] = "enter" }, "/type", "enum"},
		{"empty subject", func(e map[string]any) { e["subjectId"] = "" }, "/subjectId", "minLength"},
		{"subject with spaces", func(e map[string]any) { e["subjectId"] = "a b" }, "/subjectId", "pattern"},
		{"empty id", func(e map[string]any) { e["id"] = "" }, "/id", "minLength"},
		{"bad event timestamp", func(e map[string]any) { e["timestamp"] = "yesterday" }, "/timestamp", "format"},
		{"signal too strong", func(e map[string]any) { beacon(e)["signalStrength"] = 11 }, "/beacon/signalStrength", "maximum"},
		{"missing beacon uuid", func(e map[string]any) { delete(beacon(e), "uuid") }, "/beacon/uuid", "required"},
		{"missing type", func(e map[string]any) { delete(e, "type") }, "/type", "required"},
		{"beacon not object", func(e map[string]any) { e["beacon"] = "b" }, "/beacon", "type"},
	}

	v := newValidator(t, schema.Options{Strict: true})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(mutate(t, tt.mutate))
			issues := requireViolation(t, err)

			var found bool
			for _, is := range issues {
				if is.Path == tt.path && is.Keyword == tt.keyword {
					found = true
				}
			}
			assert.True(t, found, "want %s at %s, got %+v", tt.keyword, tt.path, issues)
		})
	}
}

func TestValidateIssueCarriesParams(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	_, err := v.Validate(mutate(t, func(e map[string]any) { beacon(e)["major"] = 65536 }))
	issues := requireViolation(t, err)

	require.Len(t, issues, 1)
	assert.Equal(t, "/properties/beacon/properties/major/maximum", issues[0].SchemaPath)
	assert.Equal(t, map[string]any{"maximum": 65535}, issues[0].Params)
	assert.NotEmpty(t, issues[0].Message)
}

func TestValidateReportsEveryViolationInDeclarationOrder(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	body := mutate(t, func(e map[string]any) {
		e["type"] = "LINGER"
		beacon(e)["uuid"] = "nope"
		beacon(e)["major"] = 70000
		e["timestamp"] = "later"
		delete(e, "id")
	})
	_, err := v.Validate(body)
	issues := requireViolation(t, err)

	assert.Equal(t, []string{"/timestamp", "/id", "/beacon/major", "/beacon/uuid", "/type"}, paths(issues))
}

func TestValidateMissingPropertiesAreItemized(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	_, err := v.Validate([]byte(`{}`))
	issues := requireViolation(t, err)

	assert.Equal(t, []string{"/timestamp", "/subjectId", "/id", "/beacon", "/type"}, paths(issues))
	for _, is := range issues {
		assert.Equal(t, "required", is.Keyword)
		assert.Equal(t, strings.TrimPrefix(is.Path, "/"), is.Params["missingProperty"])
	}
}

func TestValidateStrictRejectsAdditionalProperties(t *testing.T) {
	strict := newValidator(t, schema.Options{Strict: true})
	lenient := newValidator(t, schema.Options{Strict: false})

	body := mutate(t, func(e map[string]any) {
		e["eventId"] = "1"
		beacon(e)["txPower"] = -59
	})

	_, err := strict.Validate(body)
	issues := requireViolation(t, err)
	assert.Equal(t, []string{"/beacon/txPower", "/eventId"}, paths(issues))
	for _, is := range issues {
		assert.Equal(t, "additionalProperties", is.Keyword)
	}

	_, err = lenient.Validate(body)
	assert.NoError(t, err)
}

func TestValidateLenientSkipsStrictBounds(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: false})

	evt, err := v.Validate(mutate(t, func(e map[string]any) {
		e["subjectId"] = "user 123"
		beacon(e)["signalStrength"] = -130.25
	}))
	require.NoError(t, err)
	assert.Equal(t, -130.25, evt.Beacon.SignalStrength)

	_, err = v.Validate(mutate(t, func(e map[string]any) { beacon(e)["major"] = 65536 }))
	requireViolation(t, err)
}

func TestValidateEventTypeSetIsConfigurable(t *testing.T) {
	v := newValidator(t, schema.Options{
		Strict:     true,
		EventTypes: []model.EventType{model.EventEnter, model.EventExit},
	})

	_, err := v.Validate(mutate(t, func(e map[string]any) { e["type"] = "RANGE_UPDATE" }))
	issues := requireViolation(t, err)
	assert.Equal(t, "enum", issues[0].Keyword)

	all := newValidator(t, schema.Options{Strict: true})
	evt, err := all.Validate(mutate(t, func(e map[string]any) { e["type"] = "RANGE_UPDATE" }))
	require.NoError(t, err)
	assert.Equal(t, model.EventRangeUpdate, evt.Type)
}

func TestValidateCoercesIntegralNumbers(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	for _, major := range []string{"666.0", "6.66e2", "66600e-2"} {
		t.Run(major, func(t *testing.T) {
			body := strings.Replace(minimalEvent, `"major": 666`, `"major": `+major, 1)
			evt, err := v.Validate([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, 666, evt.Beacon.Major)
		})
	}

	body := strings.Replace(minimalEvent, `"major": 666`, `"major": 666.5`, 1)
	_, err := v.Validate([]byte(body))
	issues := requireViolation(t, err)
	assert.Equal(t, "/beacon/major", issues[0].Path)
	assert.Equal(t, "type", issues[0].Keyword)
}

func TestValidateUnrepresentableTimestampReportsFieldPath(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	body := strings.Replace(minimalEvent, `"2025-06-28T06:40:05.703Z"`, `"2016-12-31T23:59:60Z"`, 1)
	_, err := v.Validate([]byte(body))
	issues := requireViolation(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "/timestamp", issues[0].Path)
	assert.Equal(t, "format", issues[0].Keyword)
}

func TestValidateAcceptsLowercaseDateTimeSeparators(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	body := strings.Replace(minimalEvent, `"2025-06-28T06:40:05.703Z"`, `"2025-06-28t06:40:05.703z"`, 1)
	evt, err := v.Validate([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 28, 6, 40, 5, 703_000_000, time.UTC), evt.Timestamp.UTC())
}

func TestValidateLenientIgnoresCaseVariantKeys(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: false})

	body := mutate(t, func(e map[string]any) {
		e["TYPE"] = "BOGUS"
		e["SubjectID"] = ""
		e["ID"] = ""
		beacon(e)["MAJOR"] = 999999
		beacon(e)["Uuid"] = "nope"
	})
	evt, err := v.Validate(body)
	require.NoError(t, err)

	assert.Equal(t, model.EventEnter, evt.Type)
	assert.Equal(t, "default_subject", evt.SubjectID)
	assert.Equal(t, "1", evt.ID)
	assert.Equal(t, 666, evt.Beacon.Major)
	assert.Equal(t, "e2c56db5-dffb-48d2-b060-d0f5a71096e0", evt.Beacon.UUID)

	batch := `{"events":[` + string(body) + `],"BatchId":"other","batchId":"b-7"}`
	req, err := v.ValidateBatch([]byte(batch))
	require.NoError(t, err)
	assert.Equal(t, "b-7", req.BatchID)
	require.Len(t, req.Events, 1)
	assert.Equal(t, model.EventEnter, req.Events[0].Type)
	assert.Equal(t, 666, req.Events[0].Beacon.Major)
}

func TestValidateTrailingWhitespaceIsAllowed(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	_, err := v.Validate([]byte(minimalEvent + "\n\t "))
	require.NoError(t, err)
}

func TestValidateBatch(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true, MaxBatchEvents: 3})

	ok := `{"batchId":"b-1","events":[` + minimalEvent + `,` + minimalEvent + `]}`
	req, err := v.ValidateBatch([]byte(ok))
	require.NoError(t, err)
	assert.Equal(t, "b-1", req.BatchID)
	assert.Len(t, req.Events, 2)

	bad := string(mutate(t, func(e map[string]any) { beacon(e)["minor"] = -4 }))
	mixed := `{"events":[` + minimalEvent + `,` + bad + `]}`
	_, err = v.ValidateBatch([]byte(mixed))
	issues := requireViolation(t, err)
	assert.Equal(t, []string{"/events/1/beacon/minor"}, paths(issues))

	tooMany := `{"events":[` + strings.Repeat(minimalEvent+",", 3) + minimalEvent + `]}`
	_, err = v.ValidateBatch([]byte(tooMany))
	issues = requireViolation(t, err)
	assert.Equal(t, "maxItems", issues[0].Keyword)

	_, err = v.ValidateBatch([]byte(`{"events":[]}`))
	issues = requireViolation(t, err)
	assert.Equal(t, "minItems", issues[0].Keyword)

	_, err = v.ValidateBatch([]byte(`{"events":[`))
	assert.Equal(t, errors.KindInvalidJSON, errors.KindOf(err))
}

func TestValidateBatchOrdersByEventIndex(t *testing.T) {
	v := newValidator(t, schema.Options{Strict: true})

	second := string(mutate(t, func(e map[string]any) { e["type"] = "NOPE" }))
	first := string(mutate(t, func(e map[string]any) { beacon(e)["major"] = -1; e["type"] = "NOPE" }))
	_, err := v.ValidateBatch([]byte(`{"events":[` + first + `,` + second + `]}`))
	issues := requireViolation(t, err)

	assert.Equal(t, []string{"/events/0/beacon/major", "/events/0/type", "/events/1/type"}, paths(issues))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate([]byte("abc"), 5))
	assert.Equal(t, "ab…", Truncate([]byte("abcdef"), 2))
}
