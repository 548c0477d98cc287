package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_version INTEGER NOT NULL,
	aggregate_version BIGINT NOT NULL,
	event_data TEXT NOT NULL,
	event_data_type TEXT NOT NULL DEFAULT 'json',
	metadata TEXT NOT NULL DEFAULT '{}',
	timestamp TIMESTAMPTZ NOT NULL,
	UNIQUE(aggregate_id, aggregate_version)
);
CREATE INDEX IF NOT EXISTS idx_%s_aggregate_id ON %s(aggregate_id);
CREATE INDEX IF NOT EXISTS idx_%s_aggregate_type ON %s(aggregate_type);
CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp);
`

// PostgresBackend satisfies Backend for deployments that have outgrown
// an embedded database. It uses serializable transaction isolation and
// otel spans around SaveEvents/SaveEventsIndexed and LoadEvents (the other
// operations are not traced), against a configurable table name rather
// than a hardcoded "events" table.
type PostgresBackend struct {
	db        *sql.DB
	tableName string
	tracer    trace.Tracer
	breaker   *CircuitBreaker
}

// NewPostgresBackend wraps an already-opened *sql.DB; dsn handling and
// connection-string assembly are the caller's concern.
func NewPostgresBackend(db *sql.DB, tableName string) *PostgresBackend {
	if tableName == "" {
		tableName = "events"
	}
	return &PostgresBackend{
		db:        db,
		tableName: tableName,
		tracer:    otel.Tracer("eventcore/storage/postgres"),
		breaker:   NewCircuitBreaker("postgres:" + tableName),
	}
}

func (b *PostgresBackend) Initialize(ctx context.Context) error {
	stmt := fmt.Sprintf(schemaPostgres, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return &DatabaseError{Op: "initialize", Err: err}
	}
	return nil
}

func (b *PostgresBackend) SaveEvents(ctx context.Context, events []StoredEvent) error {
	_, err := b.SaveEventsIndexed(ctx, events)
	return err
}

// SaveEventsIndexed is SaveEvents plus the index of the item that aborted
// the transaction, for callers (the storage-backed batch.ItemProcessor)
// that need to report which item of a batch failed. failedIndex is -1 on
// success.
func (b *PostgresBackend) SaveEventsIndexed(ctx context.Context, events []StoredEvent) (failedIndex int, err error) {
	ctx, span := b.tracer.Start(ctx, "storage.save_events",
		trace.WithAttributes(attribute.Int("event.count", len(events))))
	defer span.End()

	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return -1, &DatabaseError{Op: "save_events.begin", Err: err}
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`INSERT INTO %s (id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, b.tableName)

	for i, ev := range events {
		_, err := tx.ExecContext(ctx, insert, ev.ID, ev.ScopedAggregateID, ev.AggregateType, ev.EventType, ev.EventVersion, ev.AggregateVersion, ev.EventData, ev.EventDataType, ev.Metadata, ev.Timestamp)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				// Do not query b.db here: this tx may still hold the only
				// free connection in a small pool, and the actual version
				// on a version conflict is always expected-1.
				span.SetAttributes(attribute.Bool("conflict.detected", true))
				return i, &OptimisticConcurrencyError{ScopedAggregateID: ev.ScopedAggregateID, Expected: ev.AggregateVersion, Actual: ev.AggregateVersion - 1}
			}
			return i, &DatabaseError{Op: "save_events.insert", Err: err}
		}
		span.AddEvent("event.appended", trace.WithAttributes(attribute.Int64("aggregate.version", ev.AggregateVersion)))
	}

	if err := tx.Commit(); err != nil {
		return -1, &DatabaseError{Op: "save_events.commit", Err: err}
	}
	span.SetAttributes(attribute.Bool("append.success", true))
	return -1, nil
}

func (b *PostgresBackend) LoadEvents(ctx context.Context, scopedAggregateID string, fromVersion int64) ([]StoredEvent, error) {
	ctx, span := b.tracer.Start(ctx, "storage.load_events",
		trace.WithAttributes(attribute.String("aggregate.scoped_id", scopedAggregateID)))
	defer span.End()

	query := fmt.Sprintf(`SELECT id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp FROM %s WHERE aggregate_id = $1 AND aggregate_version > $2 ORDER BY aggregate_version ASC`, b.tableName)
	rows, err := b.db.QueryContext(ctx, query, scopedAggregateID, fromVersion)
	if err != nil {
		return nil, &DatabaseError{Op: "load_events", Err: err}
	}
	defer rows.Close()
	events, err := scanPostgresRows(rows)
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, err
}

func (b *PostgresBackend) LoadEventsByType(ctx context.Context, aggregateType string, fromVersion int64) ([]StoredEvent, error) {
	query := fmt.Sprintf(`SELECT id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp FROM %s WHERE aggregate_type = $1 AND aggregate_version > $2 ORDER BY timestamp ASC`, b.tableName)
	rows, err := b.db.QueryContext(ctx, query, aggregateType, fromVersion)
	if err != nil {
		return nil, &DatabaseError{Op: "load_events_by_type", Err: err}
	}
	defer rows.Close()
	return scanPostgresRows(rows)
}

func (b *PostgresBackend) GetAggregateVersion(ctx context.Context, scopedAggregateID string) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(aggregate_version), 0) FROM %s WHERE aggregate_id = $1`, b.tableName)
	var version int64
	if err := b.db.QueryRowContext(ctx, query, scopedAggregateID).Scan(&version); err != nil && err != sql.ErrNoRows {
		return 0, &DatabaseError{Op: "get_aggregate_version", Err: err}
	}
	return version, nil
}

func (b *PostgresBackend) Close() error { return b.db.Close() }

func scanPostgresRows(rows *sql.Rows) ([]StoredEvent, error) {
	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var ts time.Time
		if err := rows.Scan(&ev.ID, &ev.ScopedAggregateID, &ev.AggregateType, &ev.EventType, &ev.EventVersion, &ev.AggregateVersion, &ev.EventData, &ev.EventDataType, &ev.Metadata, &ts); err != nil {
			return nil, &DatabaseError{Op: "scan_row", Err: err}
		}
		ev.Timestamp = ts
		if ev.EventDataType != "json" && ev.EventDataType != "protobuf" {
			return nil, &InvalidEventDataError{ScopedAggregateID: ev.ScopedAggregateID, Reason: fmt.Sprintf("unknown event_data_type %q", ev.EventDataType)}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Op: "iterate_rows", Err: err}
	}
	return events, nil
}
