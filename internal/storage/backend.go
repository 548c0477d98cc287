// Package storage implements the durable append-only event log: schema
// management, optimistic-concurrency inserts, and range reads, behind one
// Backend interface shared by the SQLite and Postgres implementations.
package storage

import (
	"context"
	"time"
)

// StoredEvent is the on-disk row shape, keyed by the tenant-scoped
// aggregate id (callers above this package have already applied the
// "{tenant_prefix}:{aggregate_id}" scoping). EventDataType is either
// "json" or "protobuf"; EventData holds the corresponding encoding.
type StoredEvent struct {
	ID               string
	ScopedAggregateID string
	AggregateType    string
	EventType        string
	EventVersion     int32
	AggregateVersion int64
	EventData        string // UTF-8 JSON, or base64 when EventDataType == "protobuf"
	EventDataType    string
	Metadata         string // UTF-8 JSON
	Timestamp        time.Time
}

// Backend is the storage contract both the SQLite and Postgres
// implementations satisfy. Every error returned is one of three kinds
// (OptimisticConcurrencyError, InvalidEventDataError, DatabaseError)
// from an eventcore-adjacent caller's point of view; this package
// returns its own local mirrors to avoid importing the façade package
// (storage must not depend on eventcore, eventcore depends on storage).
type Backend interface {
	// Initialize is idempotent: ensures the events table, its unique
	// constraint on (scoped_aggregate_id, aggregate_version), and its
	// indexes exist.
	Initialize(ctx context.Context) error

	// SaveEvents opens one transaction and inserts every row. A
	// unique-constraint violation aborts the transaction and returns
	// *OptimisticConcurrencyError; any other failure aborts and returns
	// *DatabaseError.
	SaveEvents(ctx context.Context, events []StoredEvent) error

	// LoadEvents returns events for scopedAggregateID with
	// aggregate_version > fromVersion, ordered ascending by version.
	LoadEvents(ctx context.Context, scopedAggregateID string, fromVersion int64) ([]StoredEvent, error)

	// LoadEventsByType returns events for aggregateType with
	// aggregate_version > fromVersion, ordered ascending by timestamp.
	LoadEventsByType(ctx context.Context, aggregateType string, fromVersion int64) ([]StoredEvent, error)

	// GetAggregateVersion returns the max aggregate_version stored for
	// scopedAggregateID, or 0 if none exists.
	GetAggregateVersion(ctx context.Context, scopedAggregateID string) (int64, error)

	// Close releases backend resources (connection pool, etc).
	Close() error
}

// OptimisticConcurrencyError mirrors eventcore.OptimisticConcurrencyError
// without creating an import cycle; eventcore translates this at the
// façade boundary.
type OptimisticConcurrencyError struct {
	ScopedAggregateID string
	Expected          int64
	Actual            int64
}

func (e *OptimisticConcurrencyError) Error() string {
	return "optimistic concurrency conflict on " + e.ScopedAggregateID
}

// InvalidEventDataError mirrors eventcore.InvalidEventDataError.
type InvalidEventDataError struct {
	ScopedAggregateID string
	Reason            string
}

func (e *InvalidEventDataError) Error() string {
	return "invalid event data for " + e.ScopedAggregateID + ": " + e.Reason
}

// DatabaseError mirrors eventcore.DatabaseError.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return "database error during " + e.Op + ": " + e.Err.Error() }
func (e *DatabaseError) Unwrap() error { return e.Err }

// TransactionalProcessor is satisfied by a Backend that can report which
// item of a batch aborted its transaction, rather than only the
// all-or-nothing error SaveEvents returns. Both SQLiteBackend and
// PostgresBackend implement it; batch.StorageEventProcessor type-asserts
// for it and falls back to plain SaveEvents against backends that don't.
type TransactionalProcessor interface {
	// SaveEventsIndexed behaves like Backend.SaveEvents but also reports
	// failedIndex, the position in events that aborted the transaction
	// (-1 on success).
	SaveEventsIndexed(ctx context.Context, events []StoredEvent) (failedIndex int, err error)
}

// ConfigurationError mirrors eventcore.ConfigurationError. Returned by a
// backend constructor for a bad path, DSN, or PRAGMA, before there is
// any store for the façade to wrap; callers surface it directly rather
// than through a translation step.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return "configuration error (" + e.Field + "): " + e.Reason
}
