package model

import "time"

type BeaconDescriptor struct {
	Major          int       `json:"major"`
	Minor          int       `json:"minor"`
	SignalStrength float64   `json:"signalStrength"`
	Timestamp      time.Time `json:"timestamp"`
	UUID           string    `json:"uuid"`
}

// BeaconEvent is the canonical envelope relayed to the bus. The JSON encoding
// of this struct is the published payload.
type BeaconEvent struct {
	ID        string           `json:"id"`
	SubjectID string           `json:"subjectId"`
	Type      EventType        `json:"type"`
	Beacon    BeaconDescriptor `json:"beacon"`
	Timestamp time.Time        `json:"timestamp"`
}

type BatchRequest struct {
	BatchID string        `json:"batchId,omitempty"`
	Events  []BeaconEvent `json:"events"`
}

// Headers returns the transport headers attached to a published event.
func (e BeaconEvent) Headers(receivedAt time.Time) map[string]string {
	return map[string]string{
		"eventType":  string(e.Type),
		"subjectId":  e.SubjectID,
		"beaconUuid": e.Beacon.UUID,
		"proximity":  string(EstimateProximity(e.Beacon.SignalStrength)),
		"receivedAt": receivedAt.UTC().Format(time.RFC3339Nano),
	}
}
