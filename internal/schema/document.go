package schema

// Declaration order of the event properties. Validation errors are reported
// in this order.
var (
	eventFields  = []string{"timestamp", "subjectId", "id", "beacon", "type"}
	beaconFields = []string{"major", "minor", "signalStrength", "timestamp", "uuid"}
)

func eventDocument(opts Options) map[string]any {
	enum := make([]any, 0, len(opts.EventTypes))
	for _, t := range opts.EventTypes {
		enum = append(enum, string(t))
	}

	subjectID := map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "Identifier for the subject (user, device, etc.)",
	}
	id := map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "Unique identifier for this event",
	}
	signal := map[string]any{
		"type":        "number",
		"description": "Signal strength in dBm (typically negative)",
	}
	if opts.Strict {
		subjectID["maxLength"] = 100
		subjectID["pattern"] = "^[a-zA-Z0-9_-]+$"
		id["maxLength"] = 50
		signal["minimum"] = -120
		signal["maximum"] = 10
	}

	beacon := map[string]any{
		"type":     "object",
		"required": stringsToAny(beaconFields),
		"properties": map[string]any{
			"major": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"maximum":     65535,
				"description": "Beacon major identifier (0-65535)",
			},
			"minor": map[string]any{
				"type":        "integer",
				"minimum":     0,
				"maximum":     65535,
				"description": "Beacon minor identifier (0-65535)",
			},
			"signalStrength": signal,
			"timestamp": map[string]any{
				"type":        "string",
				"format":      "date-time",
				"description": "ISO 8601 timestamp when beacon was detected",
			},
			"uuid": map[string]any{
				"type":        "string",
				"format":      "uuid",
				"description": "Beacon UUID in standard format",
			},
		},
	}

	doc := map[string]any{
		"$schema":     draft07,
		"title":       "Beacon Event",
		"description": "Beacon proximity event payload",
		"type":        "object",
		"required":    stringsToAny(eventFields),
		"properties": map[string]any{
			"timestamp": map[string]any{
				"type":        "string",
				"format":      "date-time",
				"description": "ISO 8601 timestamp when event occurred",
			},
			"subjectId": subjectID,
			"id":        id,
			"beacon":    beacon,
			"type": map[string]any{
				"type":        "string",
				"enum":        enum,
				"description": "Type of beacon event",
			},
		},
	}
	if opts.Strict {
		beacon["additionalProperties"] = false
		doc["additionalProperties"] = false
	}
	return doc
}

func batchDocument(opts Options, event map[string]any) map[string]any {
	item := make(map[string]any, len(event))
	for k, v := range event {
		if k == "$schema" {
			continue
		}
		item[k] = v
	}
	doc := map[string]any{
		"$schema":  draft07,
		"title":    "Beacon Event Batch",
		"type":     "object",
		"required": []any{"events"},
		"properties": map[string]any{
			"events": map[string]any{
				"type":        "array",
				"minItems":    1,
				"maxItems":    opts.MaxBatchEvents,
				"items":       item,
				"description": "Beacon events to process",
			},
			"batchId": map[string]any{
				"type":        "string",
				"minLength":   1,
				"maxLength":   100,
				"description": "Optional batch identifier",
			},
		},
	}
	if opts.Strict {
		doc["additionalProperties"] = false
	}
	return doc
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

type fieldOrder struct {
	ranks map[string]int
	last  map[string]int
}

func newFieldOrder() fieldOrder {
	o := fieldOrder{ranks: map[string]int{}, last: map[string]int{}}
	next := 0
	add := func(parent, name string) {
		next += 10
		o.ranks[parent+"/"+name] = next
		o.last[parent] = next
	}
	for _, f := range eventFields {
		add("", f)
		if f == "beacon" {
			for _, bf := range beaconFields {
				add("/beacon", bf)
			}
		}
	}
	return o
}

func (o fieldOrder) rank(path string) int {
	if path == "" {
		return 0
	}
	if r, ok := o.ranks[path]; ok {
		return r
	}
	parent := path
	for parent != "" {
		i := lastSlash(parent)
		parent = parent[:i]
		if last, ok := o.last[parent]; ok {
			return last + 5
		}
	}
	return o.last[""] + 5
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return 0
}
