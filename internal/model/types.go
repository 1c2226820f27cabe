package model

import (
	"fmt"
	"strings"
)

type EventType string

const (
	EventEnter       EventType = "ENTER"
	EventExit        EventType = "EXIT"
	EventRangeUpdate EventType = "RANGE_UPDATE"
)

// KnownEventTypes lists every event type the gateway understands. The set
// actually accepted is configured and must be a subset of this list.
var KnownEventTypes = []EventType{EventEnter, EventExit, EventRangeUpdate}

func (t EventType) Known() bool {
	for _, k := range KnownEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// ParseEventTypes parses a comma separated list such as "ENTER,EXIT".
// Duplicates are dropped and the input order is kept.
func ParseEventTypes(s string) ([]EventType, error) {
	var out []EventType
	seen := make(map[EventType]struct{})
	for _, part := range strings.Split(s, ",") {
		t := EventType(strings.ToUpper(strings.TrimSpace(part)))
		if t == "" {
			continue
		}
		if !t.Known() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no event types in %q", s)
	}
	return out, nil
}

type Proximity string

const (
	ProximityImmediate Proximity = "immediate"
	ProximityNear      Proximity = "near"
	ProximityFar       Proximity = "far"
	ProximityVeryFar   Proximity = "very_far"
)

// EstimateProximity buckets an RSSI reading in dBm. Without per-beacon
// calibration this is only a rough hint.
func EstimateProximity(rssi float64) Proximity {
	switch {
	case rssi > -50:
		return ProximityImmediate
	case rssi > -70:
		return ProximityNear
	case rssi > -90:
		return ProximityFar
	default:
		return ProximityVeryFar
	}
}
