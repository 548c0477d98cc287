// Package eventcore exposes the tenant-aware event store façade: scoping,
// quota enforcement, and batch ingestion sit behind this package so callers
// never see a scoped key or a storage row directly.
package eventcore

import (
	"time"

	"github.com/google/uuid"
)

// EventDataType discriminates how Event.Data is encoded on disk.
type EventDataType string

const (
	EventDataJSON     EventDataType = "json"
	EventDataProtobuf EventDataType = "protobuf"
)

// EventData is a tagged union: exactly one of JSON/Bytes is meaningful,
// selected by Type. Unknown Type values are rejected at the storage
// boundary with *InvalidEventDataError rather than silently defaulting.
type EventData struct {
	Type  EventDataType
	JSON  []byte // valid when Type == EventDataJSON; raw UTF-8 JSON
	Bytes []byte // valid when Type == EventDataProtobuf; opaque payload
}

// Event is an immutable record of a state change belonging to a single
// aggregate. AggregateID is always the caller's unscoped id; the façade
// applies and strips the tenant prefix at the storage boundary.
type Event struct {
	ID               uuid.UUID
	AggregateID      string
	AggregateType    string
	EventType        string
	EventVersion     int32
	AggregateVersion int64
	Data             EventData
	Metadata         map[string]string
	Timestamp        time.Time
}

// NewEvent fills in ID and Timestamp, leaving AggregateVersion for the
// caller to assign (the caller knows the expected next version; the
// backend is the final arbiter via the unique-constraint check).
func NewEvent(aggregateID, aggregateType, eventType string, eventVersion int32, data EventData) Event {
	return Event{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventVersion:  eventVersion,
		Data:          data,
		Metadata:      map[string]string{},
		Timestamp:     time.Now().UTC(),
	}
}
