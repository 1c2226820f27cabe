package model

import "time"

// EventSummary echoes the identifying fields of an accepted event.
type EventSummary struct {
	SubjectID      string    `json:"subjectId"`
	BeaconUUID     string    `json:"beaconUuid"`
	EventType      EventType `json:"eventType"`
	SignalStrength float64   `json:"signalStrength"`
	Major          int       `json:"major"`
	Minor          int       `json:"minor"`
}

func Summarize(e BeaconEvent) *EventSummary {
	return &EventSummary{
		SubjectID:      e.SubjectID,
		BeaconUUID:     e.Beacon.UUID,
		EventType:      e.Type,
		SignalStrength: e.Beacon.SignalStrength,
		Major:          e.Beacon.Major,
		Minor:          e.Beacon.Minor,
	}
}

type ValidationIssue struct {
	Path       string         `json:"path"`
	SchemaPath string         `json:"schemaPath"`
	Keyword    string         `json:"keyword"`
	Message    string         `json:"message"`
	Params     map[string]any `json:"params,omitempty"`
}

type EventResponse struct {
	Success          bool              `json:"success"`
	EventID          string            `json:"eventId,omitempty"`
	MessageID        string            `json:"messageId,omitempty"`
	Message          string            `json:"message,omitempty"`
	ProcessedAt      string            `json:"processedAt"`
	Data             *EventSummary     `json:"data,omitempty"`
	Error            string            `json:"error,omitempty"`
	ValidationErrors []ValidationIssue `json:"validationErrors,omitempty"`
}

type BatchItemResult struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BatchResponse struct {
	Success     bool              `json:"success"`
	BatchID     string            `json:"batchId"`
	ProcessedAt string            `json:"processedAt"`
	Accepted    int               `json:"accepted"`
	Failed      int               `json:"failed"`
	Results     []BatchItemResult `json:"results"`
	Error       string            `json:"error,omitempty"`
}

// Timestamp formats t the way every response reports processedAt.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
