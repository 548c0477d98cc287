package eventcore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jules-labs/eventcore/eventcore"
	"github.com/jules-labs/eventcore/internal/batch"
	"github.com/jules-labs/eventcore/internal/storage"
	"github.com/jules-labs/eventcore/internal/tenancy"
)

func newTestStore(t *testing.T) (*eventcore.EventStore, *tenancy.TenantManager) {
	t.Helper()
	backend, err := storage.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { backend.Close() })

	tenants := tenancy.NewTenantManager(tenancy.NoopAlertSink{})
	store := eventcore.NewEventStore(backend, tenants, eventcore.NopLogger{})
	return store, tenants
}

func mustRegisterTenant(t *testing.T, tenants *tenancy.TenantManager, id string, limits tenancy.ResourceLimits) {
	t.Helper()
	_, err := tenants.CreateTenant(id, id, tenancy.Strict, tenancy.Standard, limits)
	require.NoError(t, err)
}

func jsonEvent(aggregateID string, version int64) eventcore.Event {
	ev := eventcore.NewEvent(aggregateID, "order", "OrderCreated", 1, eventcore.EventData{Type: eventcore.EventDataJSON, JSON: []byte(`{"total":1}`)})
	ev.AggregateVersion = version
	return ev
}

// Saving an event then loading it back returns an equivalent event,
// tenant-unscoped, with the version the caller assigned.
func TestSaveThenLoadRoundTrips(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	ev := jsonEvent("order-1", 1)
	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{ev}))

	loaded, err := store.LoadEvents(context.Background(), "tenant-a", "order-1", 0)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "order-1", loaded[0].AggregateID)
	require.Equal(t, int64(1), loaded[0].AggregateVersion)
}

// S2: a second writer racing for the same (aggregate_id, version) loses
// with OptimisticConcurrencyError, and the first writer's event stands.
func TestConcurrentWriteConflictSurfacesOptimisticConcurrencyError(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	first := jsonEvent("order-1", 1)
	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{first}))

	second := jsonEvent("order-1", 1)
	err := store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{second})
	require.Error(t, err)

	var occ *eventcore.OptimisticConcurrencyError
	require.ErrorAs(t, err, &occ)
}

// S3: two tenants may use the same aggregate id without collision —
// isolation scoping keeps their rows apart.
func TestTwoTenantsShareAggregateIDWithoutCollision(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})
	mustRegisterTenant(t, tenants, "tenant-b", tenancy.ResourceLimits{EventsPerDay: 1000})

	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))
	require.NoError(t, store.SaveEvents(context.Background(), "tenant-b", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))

	aLoaded, err := store.LoadEvents(context.Background(), "tenant-a", "order-1", 0)
	require.NoError(t, err)
	require.Len(t, aLoaded, 1)

	bLoaded, err := store.LoadEvents(context.Background(), "tenant-b", "order-1", 0)
	require.NoError(t, err)
	require.Len(t, bLoaded, 1)
}

// An operation against an unregistered tenant fails with TenantError
// before storage is ever touched.
func TestUnregisteredTenantRejectedBeforeStorage(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.SaveEvents(context.Background(), "ghost-tenant", "order-1", []eventcore.Event{jsonEvent("order-1", 1)})
	require.Error(t, err)

	var te *eventcore.TenantError
	require.ErrorAs(t, err, &te)
}

// A write that would exceed even the tier's grace overage is denied
// with QuotaExceededError.
func TestSaveEventsDeniedBeyondGraceQuota(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 2})

	events := make([]eventcore.Event, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, jsonEvent("order-1", int64(i+1)))
	}
	err := store.SaveEvents(context.Background(), "tenant-a", "order-1", events)
	require.Error(t, err)

	var qe *eventcore.QuotaExceededError
	require.ErrorAs(t, err, &qe)
}

// GetAggregateVersion on a never-written aggregate returns 0, not an
// error.
func TestGetAggregateVersionUnknownAggregateReturnsZero(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	version, err := store.GetAggregateVersion(context.Background(), "tenant-a", "never-seen")
	require.NoError(t, err)
	require.Equal(t, int64(0), version)
}

func TestStreamerNotifiedOnSuccessfulSave(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	streamer := eventcore.NewChannelStreamer(1)
	store.SetEventStreamer(streamer)

	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))

	select {
	case batch := <-streamer.Events():
		require.Len(t, batch, 1)
	default:
		t.Fatal("expected streamer to receive the committed batch")
	}
}

func TestMetricsTrackSaveAndLoadCounts(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))
	_, err := store.LoadEvents(context.Background(), "tenant-a", "order-1", 0)
	require.NoError(t, err)

	snap := store.Metrics()
	require.Equal(t, int64(1), snap.TotalSaves)
	require.Equal(t, int64(1), snap.TotalLoads)
}

func testBatchConfig() batch.Config {
	return batch.Config{
		MinBatchSize: 1, MaxBatchSize: 10, MaxWaitMs: 10, TargetBatchTimeMs: 5,
		WorkerPoolSize: 2, MaxPendingBatches: 50, BackpressureThreshold: 0.9,
	}
}

// S-B1: events submitted through SaveEventsBatched eventually land in
// storage once the pipeline's collector drains and commits the batch.
func TestSaveEventsBatchedCommitsThroughPipeline(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	require.NoError(t, store.EnableBatchIngestion(context.Background(), testBatchConfig()))
	defer store.DisableBatchIngestion(context.Background())

	require.NoError(t, store.SaveEventsBatched(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))

	require.Eventually(t, func() bool {
		loaded, err := store.LoadEvents(context.Background(), "tenant-a", "order-1", 0)
		return err == nil && len(loaded) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// S-B2: SaveEventsBatched before EnableBatchIngestion fails fast with
// InvalidStateError rather than silently falling back to a direct write.
func TestSaveEventsBatchedRequiresIngestionEnabled(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	err := store.SaveEventsBatched(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)})
	require.Error(t, err)

	var ise *eventcore.InvalidStateError
	require.ErrorAs(t, err, &ise)
}

// S-B3: a version conflict submitted through the pipeline rolls back and
// is observable through the OnResult-driven logging path rather than
// SaveEventsBatched's own (necessarily immediate, pre-commit) return
// value — this test only asserts the enqueue itself still succeeds.
func TestSaveEventsBatchedEnqueueSucceedsEvenForLaterConflict(t *testing.T) {
	store, tenants := newTestStore(t)
	mustRegisterTenant(t, tenants, "tenant-a", tenancy.ResourceLimits{EventsPerDay: 1000})

	require.NoError(t, store.SaveEvents(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)}))

	require.NoError(t, store.EnableBatchIngestion(context.Background(), testBatchConfig()))
	defer store.DisableBatchIngestion(context.Background())

	err := store.SaveEventsBatched(context.Background(), "tenant-a", "order-1", []eventcore.Event{jsonEvent("order-1", 1)})
	require.NoError(t, err, "enqueueing never reports the async commit's outcome")
}
