// Package validate turns a raw request body into a typed beacon event or an
// itemized list of constraint violations.
package validate

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jbogacz/beacon-relay-gateway/internal/errors"
	"github.com/jbogacz/beacon-relay-gateway/internal/model"
	"github.com/jbogacz/beacon-relay-gateway/internal/schema"
)

const op = "validate"

type Validator struct {
	schema *schema.Schema
}

func New(s *schema.Schema) *Validator {
	return &Validator{schema: s}
}

func (v *Validator) Schema() *schema.Schema { return v.schema }

// Validate checks one event body. Failures are *errors.Error of kind
// KindInvalidJSON or KindSchemaViolation.
func (v *Validator) Validate(raw []byte) (model.BeaconEvent, error) {
	var evt model.BeaconEvent
	inst, err := decode(raw)
	if err != nil {
		return evt, errors.Wrapf(errors.KindInvalidJSON, op, err, "decode body")
	}
	if err := v.schema.Event().Validate(inst); err != nil {
		return evt, v.violation(err, inst, v.schema.Document())
	}
	obj, _ := inst.(map[string]any)
	var t typed
	evt = t.event(obj, "")
	if len(t.issues) > 0 {
		return model.BeaconEvent{}, v.unrepresentable(t.issues)
	}
	return evt, nil
}

// ValidateBatch checks a batch envelope. Issue paths of individual events are
// prefixed with /events/<index>.
func (v *Validator) ValidateBatch(raw []byte) (model.BatchRequest, error) {
	var req model.BatchRequest
	inst, err := decode(raw)
	if err != nil {
		return req, errors.Wrapf(errors.KindInvalidJSON, op, err, "decode body")
	}
	if err := v.schema.Batch().Validate(inst); err != nil {
		return req, v.violation(err, inst, v.schema.BatchDocument())
	}
	obj, _ := inst.(map[string]any)
	var t typed
	req = t.batch(obj)
	if len(t.issues) > 0 {
		return model.BatchRequest{}, v.unrepresentable(t.issues)
	}
	return req, nil
}

func decode(raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, stderrors.New("empty body")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var inst any
	if err := dec.Decode(&inst); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, stderrors.New("unexpected data after top-level value")
	}
	return inst, nil
}

// unrepresentable reports values the schema accepts but Go cannot hold, such
// as a leap second timestamp.
func (v *Validator) unrepresentable(issues []model.ValidationIssue) error {
	v.sort(issues)
	return errors.SchemaViolation(op, issues)
}

func (v *Validator) violation(err error, inst any, doc map[string]any) error {
	var ve *jsonschema.ValidationError
	if !stderrors.As(err, &ve) {
		return errors.New(errors.KindInternal, op, err)
	}

	var issues []model.ValidationIssue
	for _, leaf := range leaves(ve, nil) {
		issues = append(issues, describe(leaf, inst, doc)...)
	}
	if len(issues) == 0 {
		issues = append(issues, model.ValidationIssue{
			Path:       ve.InstanceLocation,
			SchemaPath: ve.KeywordLocation,
			Message:    ve.Message,
		})
	}
	v.sort(issues)
	return errors.SchemaViolation(op, issues)
}

func leaves(ve *jsonschema.ValidationError, out []*jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return append(out, ve)
	}
	for _, c := range ve.Causes {
		out = leaves(c, out)
	}
	return out
}

func describe(leaf *jsonschema.ValidationError, inst any, doc map[string]any) []model.ValidationIssue {
	loc := leaf.KeywordLocation
	i := strings.LastIndex(loc, "/")
	if i < 0 {
		return []model.ValidationIssue{{Path: leaf.InstanceLocation, SchemaPath: loc, Message: leaf.Message}}
	}
	keyword := loc[i+1:]
	node, _ := schema.Lookup(doc, loc[:i])
	def, _ := node.(map[string]any)

	switch keyword {
	case "required":
		obj, _ := instanceAt(inst, leaf.InstanceLocation).(map[string]any)
		names, _ := def["required"].([]any)
		var out []model.ValidationIssue
		for _, n := range names {
			name, _ := n.(string)
			if _, ok := obj[name]; ok {
				continue
			}
			out = append(out, model.ValidationIssue{
				Path:       leaf.InstanceLocation + "/" + escape(name),
				SchemaPath: loc,
				Keyword:    keyword,
				Message:    fmt.Sprintf("missing required property %q", name),
				Params:     map[string]any{"missingProperty": name},
			})
		}
		if len(out) > 0 {
			return out
		}
	case "additionalProperties":
		obj, _ := instanceAt(inst, leaf.InstanceLocation).(map[string]any)
		declared, _ := def["properties"].(map[string]any)
		var extra []string
		for name := range obj {
			if _, ok := declared[name]; !ok {
				extra = append(extra, name)
			}
		}
		sort.Strings(extra)
		var out []model.ValidationIssue
		for _, name := range extra {
			out = append(out, model.ValidationIssue{
				Path:       leaf.InstanceLocation + "/" + escape(name),
				SchemaPath: loc,
				Keyword:    keyword,
				Message:    fmt.Sprintf("property %q is not allowed", name),
				Params:     map[string]any{"additionalProperty": name},
			})
		}
		if len(out) > 0 {
			return out
		}
	}

	issue := model.ValidationIssue{
		Path:       leaf.InstanceLocation,
		SchemaPath: loc,
		Keyword:    keyword,
		Message:    leaf.Message,
	}
	if c, ok := def[keyword]; ok {
		issue.Params = map[string]any{keyword: c}
	}
	return []model.ValidationIssue{issue}
}

func instanceAt(inst any, pointer string) any {
	cur := inst
	for _, tok := range schema.Split(pointer) {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[tok]
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			cur = node[idx]
		default:
			return nil
		}
	}
	return cur
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func escape(name string) string { return pointerEscaper.Replace(name) }

// sort orders issues by event index, then by property declaration order.
func (v *Validator) sort(issues []model.ValidationIssue) {
	type key struct{ event, rank int }
	keyOf := func(path string) key {
		if rest, ok := strings.CutPrefix(path, "/events/"); ok {
			idxStr, sub, _ := strings.Cut(rest, "/")
			if idx, err := strconv.Atoi(idxStr); err == nil {
				if sub != "" {
					sub = "/" + sub
				}
				return key{event: idx, rank: v.schema.Rank(sub)}
			}
		}
		if strings.HasPrefix(path, "/events") || path == "/batchId" {
			return key{event: -1}
		}
		return key{event: 0, rank: v.schema.Rank(path)}
	}
	sort.SliceStable(issues, func(i, j int) bool {
		ki, kj := keyOf(issues[i].Path), keyOf(issues[j].Path)
		if ki != kj {
			if ki.event != kj.event {
				return ki.event < kj.event
			}
			return ki.rank < kj.rank
		}
		return issues[i].Keyword < issues[j].Keyword
	})
}

// Truncate shortens a payload for log lines.
func Truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
