package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_version INTEGER NOT NULL,
	aggregate_version INTEGER NOT NULL,
	event_data TEXT NOT NULL,
	event_data_type TEXT NOT NULL DEFAULT 'json',
	metadata TEXT NOT NULL DEFAULT '{}',
	timestamp TEXT NOT NULL,
	UNIQUE(aggregate_id, aggregate_version)
);
CREATE INDEX IF NOT EXISTS idx_%s_aggregate_id ON %s(aggregate_id);
CREATE INDEX IF NOT EXISTS idx_%s_aggregate_type ON %s(aggregate_type);
CREATE INDEX IF NOT EXISTS idx_%s_timestamp ON %s(timestamp);
`

// SQLiteOption configures NewSQLiteBackend, following the functional
// options shape the pack's plaenen-eventstore example uses for its own
// sqlite-backed store.
type SQLiteOption func(*sqliteOptions)

type sqliteOptions struct {
	wal       WalConfig
	maxConns  int
	tableName string
}

// WithWAL installs a specific WAL tuning preset.
func WithWAL(cfg WalConfig) SQLiteOption { return func(o *sqliteOptions) { o.wal = cfg } }

// WithMaxConnections bounds the connection pool.
func WithMaxConnections(n int) SQLiteOption { return func(o *sqliteOptions) { o.maxConns = n } }

// WithTableName overrides the default "events" table name.
func WithTableName(name string) SQLiteOption { return func(o *sqliteOptions) { o.tableName = name } }

// SQLiteBackend is the primary storage backend: an embedded database,
// file-backed or ":memory:", WAL-tunable via the three named presets.
type SQLiteBackend struct {
	db        *sqlx.DB
	tableName string
	breaker   *CircuitBreaker
}

// eventInsertRow binds StoredEvent fields to the named parameters
// sqlx.Named expects; the timestamp is pre-formatted since sqlite
// has no native temporal type.
type eventInsertRow struct {
	ID               string `db:"id"`
	AggregateID      string `db:"aggregate_id"`
	AggregateType    string `db:"aggregate_type"`
	EventType        string `db:"event_type"`
	EventVersion     int32  `db:"event_version"`
	AggregateVersion int64  `db:"aggregate_version"`
	EventData        string `db:"event_data"`
	EventDataType    string `db:"event_data_type"`
	Metadata         string `db:"metadata"`
	Timestamp        string `db:"timestamp"`
}

// NewSQLiteBackend opens path (which may be ":memory:") and applies the
// configured WAL pragmas. ":memory:" is special-cased to a single
// connection: sqlite gives every new connection its own isolated
// in-memory database, so a pool larger than one silently fragments state
// across connections.
func NewSQLiteBackend(path string, opts ...SQLiteOption) (*SQLiteBackend, error) {
	o := sqliteOptions{wal: DefaultWalConfig(), maxConns: 10, tableName: "events"}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("open sqlite3 %q: %v", path, err)}
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(o.maxConns)
		db.SetMaxIdleConns(o.maxConns)
	}

	for _, pragma := range o.wal.Pragmas() {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &ConfigurationError{Reason: fmt.Sprintf("apply %q: %v", pragma, err)}
		}
	}

	return &SQLiteBackend{db: db, tableName: o.tableName, breaker: NewCircuitBreaker("sqlite:" + o.tableName)}, nil
}

func (b *SQLiteBackend) Initialize(ctx context.Context) error {
	stmt := fmt.Sprintf(schemaSQLite, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return &DatabaseError{Op: "initialize", Err: err}
	}
	return nil
}

func (b *SQLiteBackend) SaveEvents(ctx context.Context, events []StoredEvent) error {
	_, err := b.SaveEventsIndexed(ctx, events)
	return err
}

// SaveEventsIndexed is SaveEvents plus the index of the item that aborted
// the transaction, for callers (the storage-backed batch.ItemProcessor)
// that need to report which item of a batch failed. failedIndex is -1 on
// success.
func (b *SQLiteBackend) SaveEventsIndexed(ctx context.Context, events []StoredEvent) (failedIndex int, err error) {
	isBusy := func(err error) bool {
		return strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY")
	}
	tx, err := retryBeginTx(ctx, b.db.DB, nil, isBusy)
	if err != nil {
		return -1, &DatabaseError{Op: "save_events.begin", Err: err}
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`INSERT INTO %s (id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp) VALUES (:id, :aggregate_id, :aggregate_type, :event_type, :event_version, :aggregate_version, :event_data, :event_data_type, :metadata, :timestamp)`, b.tableName)

	for i, ev := range events {
		row := eventInsertRow{
			ID:               ev.ID,
			AggregateID:      ev.ScopedAggregateID,
			AggregateType:    ev.AggregateType,
			EventType:        ev.EventType,
			EventVersion:     ev.EventVersion,
			AggregateVersion: ev.AggregateVersion,
			EventData:        ev.EventData,
			EventDataType:    ev.EventDataType,
			Metadata:         ev.Metadata,
			Timestamp:        ev.Timestamp.Format(time.RFC3339Nano),
		}
		boundQuery, args, bindErr := sqlx.Named(insert, row)
		if bindErr != nil {
			return i, &DatabaseError{Op: "save_events.bind", Err: bindErr}
		}
		_, err := tx.ExecContext(ctx, boundQuery, args...)
		if err != nil {
			if isUniqueViolation(err) {
				// Must not query b.db here: this tx still holds the pool's
				// only connection on ":memory:" (MaxOpenConns(1)), so a
				// second query against b.db would block forever waiting
				// for a connection the open tx never releases. The actual
				// version is always expected-1 for a version conflict.
				return i, &OptimisticConcurrencyError{ScopedAggregateID: ev.ScopedAggregateID, Expected: ev.AggregateVersion, Actual: ev.AggregateVersion - 1}
			}
			return i, &DatabaseError{Op: "save_events.insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return -1, &DatabaseError{Op: "save_events.commit", Err: err}
	}
	return -1, nil
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed")
}

func (b *SQLiteBackend) LoadEvents(ctx context.Context, scopedAggregateID string, fromVersion int64) ([]StoredEvent, error) {
	query := fmt.Sprintf(`SELECT id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp FROM %s WHERE aggregate_id = ? AND aggregate_version > ? ORDER BY aggregate_version ASC`, b.tableName)
	rows, err := b.db.QueryContext(ctx, query, scopedAggregateID, fromVersion)
	if err != nil {
		return nil, &DatabaseError{Op: "load_events", Err: err}
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

func (b *SQLiteBackend) LoadEventsByType(ctx context.Context, aggregateType string, fromVersion int64) ([]StoredEvent, error) {
	query := fmt.Sprintf(`SELECT id, aggregate_id, aggregate_type, event_type, event_version, aggregate_version, event_data, event_data_type, metadata, timestamp FROM %s WHERE aggregate_type = ? AND aggregate_version > ? ORDER BY timestamp ASC`, b.tableName)
	rows, err := b.db.QueryContext(ctx, query, aggregateType, fromVersion)
	if err != nil {
		return nil, &DatabaseError{Op: "load_events_by_type", Err: err}
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

func (b *SQLiteBackend) GetAggregateVersion(ctx context.Context, scopedAggregateID string) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(aggregate_version), 0) FROM %s WHERE aggregate_id = ?`, b.tableName)
	var version int64
	if err := b.db.QueryRowContext(ctx, query, scopedAggregateID).Scan(&version); err != nil {
		return 0, &DatabaseError{Op: "get_aggregate_version", Err: err}
	}
	return version, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

func scanStoredEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var events []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ev.ScopedAggregateID, &ev.AggregateType, &ev.EventType, &ev.EventVersion, &ev.AggregateVersion, &ev.EventData, &ev.EventDataType, &ev.Metadata, &ts); err != nil {
			return nil, &DatabaseError{Op: "scan_row", Err: err}
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, &InvalidEventDataError{ScopedAggregateID: ev.ScopedAggregateID, Reason: fmt.Sprintf("malformed timestamp %q: %v", ts, err)}
		}
		ev.Timestamp = parsed
		if ev.EventDataType != "json" && ev.EventDataType != "protobuf" {
			return nil, &InvalidEventDataError{ScopedAggregateID: ev.ScopedAggregateID, Reason: fmt.Sprintf("unknown event_data_type %q", ev.EventDataType)}
		}
		if ev.EventDataType == "protobuf" {
			if _, err := base64.StdEncoding.DecodeString(ev.EventData); err != nil {
				return nil, &InvalidEventDataError{ScopedAggregateID: ev.ScopedAggregateID, Reason: fmt.Sprintf("malformed protobuf encoding: %v", err)}
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, &DatabaseError{Op: "iterate_rows", Err: err}
	}
	return events, nil
}
