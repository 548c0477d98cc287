// Package eventcore exposes the tenant-aware event store façade: scoping,
// quota enforcement, and batch ingestion sit behind this package so
// callers never see a scoped key or a storage row directly.
package eventcore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jules-labs/eventcore/internal/batch"
	"github.com/jules-labs/eventcore/internal/storage"
	"github.com/jules-labs/eventcore/internal/tenancy"
)

// EventStore is the single entry point callers use: every operation
// takes a tenant id, validates isolation, enforces quota, and only then
// touches the storage backend.
type EventStore struct {
	backend storage.Backend
	tenants *tenancy.TenantManager
	logger  Logger
	metrics *StorageMetrics
	streamer Streamer

	batchProcessor *batch.Processor[storage.StoredEvent]
}

// NewEventStore builds a façade over backend and tenants. logger may be
// nil, in which case NopLogger is used.
func NewEventStore(backend storage.Backend, tenants *tenancy.TenantManager, logger Logger) *EventStore {
	if logger == nil {
		logger = NopLogger{}
	}
	return &EventStore{backend: backend, tenants: tenants, logger: logger, metrics: NewStorageMetrics()}
}

// Initialize prepares the backend's schema.
func (s *EventStore) Initialize(ctx context.Context) error {
	if err := s.backend.Initialize(ctx); err != nil {
		return translateStorageError(err)
	}
	return nil
}

// SetEventStreamer installs the post-commit observer; nil disables
// streaming.
func (s *EventStore) SetEventStreamer(streamer Streamer) { s.streamer = streamer }

// Metrics exposes the façade's save/load latency and count stats.
func (s *EventStore) Metrics() Snapshot { return s.metrics.Snapshot() }

// SaveEvents validates tenant isolation, checks the tenant's event
// quota, writes events through one backend transaction, records usage
// and metrics, and notifies any installed streamer. All events must
// belong to the same aggregate id; AggregateVersion must already be set
// by the caller to the expected next versions.
func (s *EventStore) SaveEvents(ctx context.Context, tenantID, aggregateID string, events []Event) error {
	start := time.Now()
	err := s.saveEvents(ctx, tenantID, aggregateID, events)
	s.metrics.recordSave(time.Since(start), err == nil)
	if err != nil {
		s.logger.Error().Str("tenant_id", tenantID).Str("aggregate_id", aggregateID).Err(err).Msg("save_events failed")
	}
	return err
}

func (s *EventStore) saveEvents(ctx context.Context, tenantID, aggregateID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := s.tenants.ValidateOperation(tenantID, tenancy.Operation{Kind: tenancy.OpCreateEvent, Target: aggregateID}); err != nil {
		return translateTenantError(err)
	}

	result, err := s.tenants.CheckTenantQuota(ctx, tenantID, tenancy.ResourceEvents, float64(len(events)))
	if err != nil {
		return translateTenantError(err)
	}
	if !result.Allowed {
		return &QuotaExceededError{TenantID: tenantID, Resource: tenancy.ResourceEvents.String(), Current: result.Current, Limit: result.Limit, Attempted: float64(len(events))}
	}

	scoped := tenancy.ScopeAggregateID(tenantID, aggregateID)
	stored := make([]storage.StoredEvent, len(events))
	for i, ev := range events {
		se, err := eventToStored(scoped, ev)
		if err != nil {
			return err
		}
		stored[i] = se
	}

	if err := s.backend.SaveEvents(ctx, stored); err != nil {
		return translateStorageError(err)
	}

	if err := s.tenants.RecordTenantUsage(ctx, tenantID, tenancy.ResourceEvents, float64(len(events))); err != nil {
		s.logger.Warn().Str("tenant_id", tenantID).Err(err).Msg("record usage failed after successful save")
	}

	if s.streamer != nil {
		if err := s.streamer.Notify(ctx, events); err != nil {
			s.logger.Warn().Str("tenant_id", tenantID).Err(err).Msg("streamer notify failed")
		}
	}

	return nil
}

// EnableBatchIngestion starts the adaptive-sized batch pipeline, backed
// by a transactional batch.StorageEventProcessor: each dispatched batch commits
// through one transaction on the backend, rolling the whole batch back on
// the first item's failure. Calling this twice, or calling it after the
// processor is already running, fails with *InvalidStateError.
func (s *EventStore) EnableBatchIngestion(ctx context.Context, cfg batch.Config) error {
	if s.batchProcessor != nil {
		return &InvalidStateError{Component: "eventcore.EventStore", State: "batch ingestion already enabled"}
	}
	processor := batch.New(cfg, batch.NewStorageEventProcessor(s.backend))
	processor.OnResult(func(r batch.Result) {
		if len(r.Errors) == 0 {
			s.logger.Debug().Int64("batch_id", int64(r.BatchID)).Int("items", r.ItemsProcessed).Msg("batch committed")
			return
		}
		s.logger.Error().Int64("batch_id", int64(r.BatchID)).Int("items", r.ItemsProcessed).Str("error", strings.Join(r.Errors, "; ")).Msg("batch rolled back")
	})
	if err := processor.Start(ctx); err != nil {
		return translateBatchError(err)
	}
	s.batchProcessor = processor
	return nil
}

// DisableBatchIngestion drains and stops the batch pipeline. A no-op if
// ingestion was never enabled.
func (s *EventStore) DisableBatchIngestion(ctx context.Context) error {
	if s.batchProcessor == nil {
		return nil
	}
	err := s.batchProcessor.Stop(ctx)
	s.batchProcessor = nil
	if err != nil {
		return translateBatchError(err)
	}
	return nil
}

// SaveEventsBatched validates tenant isolation and quota exactly as
// SaveEvents does, then hands each event to the batch pipeline instead of
// writing through the backend directly. The pipeline's transaction per
// batch commits (or rolls back) asynchronously on a worker goroutine; any
// failure surfaces through the OnResult hook installed by
// EnableBatchIngestion, not through this call's return value. Requires
// EnableBatchIngestion to have been called first.
func (s *EventStore) SaveEventsBatched(ctx context.Context, tenantID, aggregateID string, events []Event) error {
	if s.batchProcessor == nil {
		return &InvalidStateError{Component: "eventcore.EventStore", State: "batch ingestion not enabled"}
	}
	if len(events) == 0 {
		return nil
	}
	if err := s.tenants.ValidateOperation(tenantID, tenancy.Operation{Kind: tenancy.OpCreateEvent, Target: aggregateID}); err != nil {
		return translateTenantError(err)
	}

	result, err := s.tenants.CheckTenantQuota(ctx, tenantID, tenancy.ResourceEvents, float64(len(events)))
	if err != nil {
		return translateTenantError(err)
	}
	if !result.Allowed {
		return &QuotaExceededError{TenantID: tenantID, Resource: tenancy.ResourceEvents.String(), Current: result.Current, Limit: result.Limit, Attempted: float64(len(events))}
	}

	scoped := tenancy.ScopeAggregateID(tenantID, aggregateID)
	for _, ev := range events {
		se, err := eventToStored(scoped, ev)
		if err != nil {
			return err
		}
		if err := s.batchProcessor.AddItem(ctx, se); err != nil {
			return translateBatchError(err)
		}
	}

	if err := s.tenants.RecordTenantUsage(ctx, tenantID, tenancy.ResourceEvents, float64(len(events))); err != nil {
		s.logger.Warn().Str("tenant_id", tenantID).Err(err).Msg("record usage failed after enqueueing batch")
	}
	return nil
}

// LoadEvents returns aggregateID's events after fromVersion, ascending.
func (s *EventStore) LoadEvents(ctx context.Context, tenantID, aggregateID string, fromVersion int64) ([]Event, error) {
	start := time.Now()
	events, err := s.loadEvents(ctx, tenantID, aggregateID, fromVersion)
	s.metrics.recordLoad("load_events", time.Since(start), err == nil)
	return events, err
}

func (s *EventStore) loadEvents(ctx context.Context, tenantID, aggregateID string, fromVersion int64) ([]Event, error) {
	if err := s.tenants.ValidateOperation(tenantID, tenancy.Operation{Kind: tenancy.OpReadEvents, Target: aggregateID}); err != nil {
		return nil, translateTenantError(err)
	}
	scoped := tenancy.ScopeAggregateID(tenantID, aggregateID)
	rows, err := s.backend.LoadEvents(ctx, scoped, fromVersion)
	if err != nil {
		return nil, translateStorageError(err)
	}
	return storedToEvents(tenantID, rows)
}

// LoadEventsByType returns the calling tenant's events of aggregateType
// after fromVersion, ordered by timestamp. The backend query matches on
// aggregate_type alone, so rows whose ScopedAggregateID does not carry
// this tenant's scoping prefix are dropped here before unscoping.
func (s *EventStore) LoadEventsByType(ctx context.Context, tenantID, aggregateType string, fromVersion int64) ([]Event, error) {
	start := time.Now()
	events, err := s.loadEventsByType(ctx, tenantID, aggregateType, fromVersion)
	s.metrics.recordLoad("load_events_by_type", time.Since(start), err == nil)
	return events, err
}

func (s *EventStore) loadEventsByType(ctx context.Context, tenantID, aggregateType string, fromVersion int64) ([]Event, error) {
	if err := s.tenants.ValidateOperation(tenantID, tenancy.Operation{Kind: tenancy.OpReadEvents, Target: aggregateType}); err != nil {
		return nil, translateTenantError(err)
	}
	rows, err := s.backend.LoadEventsByType(ctx, aggregateType, fromVersion)
	if err != nil {
		return nil, translateStorageError(err)
	}

	filtered := rows[:0]
	prefix := tenancy.ScopePrefix(tenantID) + ":"
	for _, row := range rows {
		if len(row.ScopedAggregateID) > len(prefix) && row.ScopedAggregateID[:len(prefix)] == prefix {
			filtered = append(filtered, row)
		}
	}
	return storedToEvents(tenantID, filtered)
}

// GetAggregateVersion returns the current version for aggregateID, or 0
// if it has no events.
func (s *EventStore) GetAggregateVersion(ctx context.Context, tenantID, aggregateID string) (int64, error) {
	if err := s.tenants.ValidateOperation(tenantID, tenancy.Operation{Kind: tenancy.OpReadEvents, Target: aggregateID}); err != nil {
		return 0, translateTenantError(err)
	}
	scoped := tenancy.ScopeAggregateID(tenantID, aggregateID)
	v, err := s.backend.GetAggregateVersion(ctx, scoped)
	if err != nil {
		return 0, translateStorageError(err)
	}
	return v, nil
}

func eventToStored(scopedAggregateID string, ev Event) (storage.StoredEvent, error) {
	var dataCol, dataType string
	switch ev.Data.Type {
	case EventDataJSON:
		dataCol = string(ev.Data.JSON)
		dataType = string(EventDataJSON)
	case EventDataProtobuf:
		dataCol = base64.StdEncoding.EncodeToString(ev.Data.Bytes)
		dataType = string(EventDataProtobuf)
	default:
		return storage.StoredEvent{}, &InvalidEventDataError{AggregateID: ev.AggregateID, Reason: fmt.Sprintf("unknown event data type %q", ev.Data.Type)}
	}

	metaJSON, err := json.Marshal(ev.Metadata)
	if err != nil {
		return storage.StoredEvent{}, &InvalidEventDataError{AggregateID: ev.AggregateID, Reason: fmt.Sprintf("marshal metadata: %v", err)}
	}

	return storage.StoredEvent{
		ID:                ev.ID.String(),
		ScopedAggregateID: scopedAggregateID,
		AggregateType:     ev.AggregateType,
		EventType:         ev.EventType,
		EventVersion:      ev.EventVersion,
		AggregateVersion:  ev.AggregateVersion,
		EventData:         dataCol,
		EventDataType:     dataType,
		Metadata:          string(metaJSON),
		Timestamp:         ev.Timestamp,
	}, nil
}

func storedToEvents(tenantID string, rows []storage.StoredEvent) ([]Event, error) {
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		ev, err := storedToEvent(tenantID, row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func storedToEvent(tenantID string, row storage.StoredEvent) (Event, error) {
	aggregateID, ok := tenancy.UnscopeAggregateID(tenantID, row.ScopedAggregateID)
	if !ok {
		return Event{}, &TenantError{TenantID: tenantID, Reason: "storage row does not carry this tenant's scoping prefix"}
	}

	id, err := uuid.Parse(row.ID)
	if err != nil {
		return Event{}, &InvalidEventDataError{AggregateID: aggregateID, Reason: fmt.Sprintf("malformed id: %v", err)}
	}

	data := EventData{Type: EventDataType(row.EventDataType)}
	switch data.Type {
	case EventDataJSON:
		data.JSON = []byte(row.EventData)
	case EventDataProtobuf:
		decoded, err := base64.StdEncoding.DecodeString(row.EventData)
		if err != nil {
			return Event{}, &InvalidEventDataError{AggregateID: aggregateID, Reason: fmt.Sprintf("decode protobuf: %v", err)}
		}
		data.Bytes = decoded
	default:
		return Event{}, &InvalidEventDataError{AggregateID: aggregateID, Reason: fmt.Sprintf("unknown event_data_type %q", row.EventDataType)}
	}

	var metadata map[string]string
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
			return Event{}, &InvalidEventDataError{AggregateID: aggregateID, Reason: fmt.Sprintf("unmarshal metadata: %v", err)}
		}
	}

	return Event{
		ID: id, AggregateID: aggregateID, AggregateType: row.AggregateType, EventType: row.EventType,
		EventVersion: row.EventVersion, AggregateVersion: row.AggregateVersion,
		Data: data, Metadata: metadata, Timestamp: row.Timestamp,
	}, nil
}

// translateStorageError maps the storage package's local error mirrors
// onto the façade's public error kinds.
func translateStorageError(err error) error {
	if err == nil {
		return nil
	}
	// Scoped ids are "t_<tenant>:<aggregate>" and tenant ids never contain
	// ':', so everything after the first ':' is the caller's aggregate id.
	unscope := func(scoped string) string {
		if _, id, ok := strings.Cut(scoped, ":"); ok {
			return id
		}
		return scoped
	}
	var occ *storage.OptimisticConcurrencyError
	if errors.As(err, &occ) {
		return &OptimisticConcurrencyError{AggregateID: unscope(occ.ScopedAggregateID), Expected: occ.Expected, Actual: occ.Actual}
	}
	var ied *storage.InvalidEventDataError
	if errors.As(err, &ied) {
		return &InvalidEventDataError{AggregateID: unscope(ied.ScopedAggregateID), Reason: ied.Reason}
	}
	var db *storage.DatabaseError
	if errors.As(err, &db) {
		return &DatabaseError{Op: db.Op, Err: db.Err}
	}
	return &DatabaseError{Op: "unknown", Err: err}
}

// translateBatchError maps the batch package's local error mirrors onto
// the façade's public error kinds.
func translateBatchError(err error) error {
	if err == nil {
		return nil
	}
	var ise *batch.InvalidStateError
	if errors.As(err, &ise) {
		return &InvalidStateError{Component: ise.Component, State: ise.State}
	}
	var bpe *batch.BackpressureError
	if errors.As(err, &bpe) {
		return &BackpressureAppliedError{QueueDepth: bpe.QueueDepth, Threshold: bpe.Threshold}
	}
	var proc *batch.BatchProcessingError
	if errors.As(err, &proc) {
		return &BatchProcessingError{FailedIndex: proc.FailedIndex, ItemErr: proc.Err}
	}
	return err
}

// translateTenantError maps the tenancy package's own error types onto
// the façade's public kinds (currently a passthrough, since both
// packages define TenantError with the same shape; kept distinct so the
// mapping point exists if the two ever diverge).
func translateTenantError(err error) error {
	var te *tenancy.TenantError
	if errors.As(err, &te) {
		return &TenantError{TenantID: te.TenantID, Reason: te.Reason}
	}
	return err
}
