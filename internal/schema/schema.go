// Package schema holds the one declarative description of a beacon event.
// The same document is compiled into the runtime validator and served as
// documentation, so the two cannot drift apart.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jbogacz/beacon-relay-gateway/internal/model"
)

const (
	EventURL = "https://beacon-relay.local/schemas/beacon-event.json"
	BatchURL = "https://beacon-relay.local/schemas/beacon-event-batch.json"

	draft07 = "http://json-schema.org/draft-07/schema#"

	DefaultMaxBatchEvents = 100
)

type Options struct {
	// Strict rejects unknown properties and applies the tighter string and
	// signal strength bounds.
	Strict         bool
	EventTypes     []model.EventType
	MaxBatchEvents int
}

// Schema is immutable after New and safe for concurrent use.
type Schema struct {
	opts     Options
	eventDoc map[string]any
	batchDoc map[string]any
	event    *jsonschema.Schema
	batch    *jsonschema.Schema
	order    fieldOrder
}

func New(opts Options) (*Schema, error) {
	if len(opts.EventTypes) == 0 {
		opts.EventTypes = model.KnownEventTypes
	}
	for _, t := range opts.EventTypes {
		if !t.Known() {
			return nil, fmt.Errorf("schema: unknown event type %q", t)
		}
	}
	if opts.MaxBatchEvents <= 0 {
		opts.MaxBatchEvents = DefaultMaxBatchEvents
	}

	s := &Schema{opts: opts, order: newFieldOrder()}
	s.eventDoc = eventDocument(opts)
	s.batchDoc = batchDocument(opts, s.eventDoc)

	var err error
	if s.event, err = compile(EventURL, s.eventDoc); err != nil {
		return nil, fmt.Errorf("schema: compile event: %w", err)
	}
	if s.batch, err = compile(BatchURL, s.batchDoc); err != nil {
		return nil, fmt.Errorf("schema: compile batch: %w", err)
	}
	return s, nil
}

func compile(url string, doc map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft7
	c.AssertFormat = true
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func (s *Schema) Event() *jsonschema.Schema { return s.event }
func (s *Schema) Batch() *jsonschema.Schema { return s.batch }

// Document returns the event schema as served to API consumers.
func (s *Schema) Document() map[string]any { return s.eventDoc }

func (s *Schema) BatchDocument() map[string]any { return s.batchDoc }

func (s *Schema) EventTypes() []model.EventType {
	return append([]model.EventType(nil), s.opts.EventTypes...)
}

func (s *Schema) Strict() bool        { return s.opts.Strict }
func (s *Schema) MaxBatchEvents() int { return s.opts.MaxBatchEvents }

// Rank orders instance paths (relative to one event) by property declaration
// order, parents before children. Unknown properties sort after the declared
// siblings of their parent.
func (s *Schema) Rank(path string) int { return s.order.rank(path) }

// Lookup resolves a JSON pointer (as found in a keyword location) against
// the event or batch document.
func Lookup(doc map[string]any, pointer string) (any, bool) {
	var cur any = doc
	for _, tok := range Split(pointer) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[tok]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Split decodes a JSON pointer into its unescaped tokens.
func Split(pointer string) []string {
	if pointer == "" || pointer == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, p := range parts {
		parts[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(p)
	}
	return parts
}

// Example is a minimal valid event.
func Example() map[string]any {
	return map[string]any{
		"timestamp": "2025-06-28T06:40:05.703Z",
		"subjectId": "default_subject",
		"id":        "1",
		"beacon": map[string]any{
			"major":          666,
			"minor":          0,
			"signalStrength": -87,
			"timestamp":      "2025-06-28T06:40:05.702Z",
			"uuid":           "e2c56db5-dffb-48d2-b060-d0f5a71096e0",
		},
		"type": "ENTER",
	}
}
