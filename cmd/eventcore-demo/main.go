// cmd/eventcore-demo/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/jules-labs/eventcore/eventcore"
	"github.com/jules-labs/eventcore/internal/batch"
	"github.com/jules-labs/eventcore/internal/faultinjection"
	"github.com/jules-labs/eventcore/internal/storage"
	"github.com/jules-labs/eventcore/internal/tenancy"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: failed to load .env: %v", err)
	}

	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("failed to build storage backend: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	if err := backend.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}

	var sink tenancy.AlertSink = tenancy.NoopAlertSink{}
	if token := os.Getenv("SLACK_ALERT_TOKEN"); token != "" {
		sink = tenancy.NewSlackAlertSink(token, getEnv("SLACK_ALERT_CHANNEL", "#eventcore-alerts"))
		log.Printf("quota alerts enabled against slack channel %s", getEnv("SLACK_ALERT_CHANNEL", "#eventcore-alerts"))
	}
	tenants := tenancy.NewTenantManager(sink).WithAPICallLimiter(tenancy.NewAPICallLimiter(50, 100))
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: addr})
		tenants = tenants.WithUsageMirror(tenancy.NewRedisUsageMirror(redisClient, 48*time.Hour))
		log.Printf("usage mirror enabled against redis at %s", addr)
	}
	store := eventcore.NewEventStore(backend, tenants, eventcore.NewZerologLogger())

	streamer := eventcore.NewChannelStreamer(64)
	store.SetEventStreamer(streamer)
	go func() {
		for batch := range streamer.Events() {
			log.Printf("streamed %d event(s)", len(batch))
		}
	}()

	tierLimits := tenancy.ResourceLimits{EventsPerDay: 10000, StorageMB: 1024, ConcurrentStreams: 10, Projections: 5, Aggregates: 1000, APICallsPerDay: 50000}
	if _, err := tenants.CreateTenant("demo-tenant", "Demo Tenant", tenancy.Strict, tenancy.Professional, tierLimits); err != nil {
		log.Fatalf("failed to register demo tenant: %v", err)
	}

	fmt.Println("🚀 Starting eventcore demo")

	aggregateID := "order-1"
	events := []eventcore.Event{
		eventcore.NewEvent(aggregateID, "order", "OrderCreated", 1, eventcore.EventData{Type: eventcore.EventDataJSON, JSON: []byte(`{"total":42.0}`)}),
	}
	events[0].AggregateVersion = 1

	if err := store.SaveEvents(ctx, "demo-tenant", aggregateID, events); err != nil {
		log.Fatalf("save events: %v", err)
	}

	loaded, err := store.LoadEvents(ctx, "demo-tenant", aggregateID, 0)
	if err != nil {
		log.Fatalf("load events: %v", err)
	}
	fmt.Printf("📦 loaded %d event(s) for aggregate %q\n", len(loaded), aggregateID)

	usage, err := tenants.GetTenantUsage("demo-tenant")
	if err != nil {
		log.Fatalf("get usage: %v", err)
	}
	fmt.Printf("📊 performance score: %d\n", usage.PerformanceScore)

	runBatchIngestionDemo(ctx, store)

	if breakerBackend, ok := backend.(*storage.SQLiteBackend); ok {
		runFaultInjectionDemo(ctx, breakerBackend, aggregateID)
	}
}

// runBatchIngestionDemo enables the adaptive batch pipeline and drives a
// handful of aggregates through it, so the transactional storage-backed
// processor commits through real batches rather than standing unused.
func runBatchIngestionDemo(ctx context.Context, store *eventcore.EventStore) {
	if err := store.EnableBatchIngestion(ctx, batch.LowLatencyPreset()); err != nil {
		log.Printf("batch ingestion: %v", err)
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := store.DisableBatchIngestion(stopCtx); err != nil {
			log.Printf("batch ingestion shutdown: %v", err)
		}
	}()

	for i := 2; i <= 6; i++ {
		aggID := fmt.Sprintf("order-%d", i)
		events := []eventcore.Event{
			eventcore.NewEvent(aggID, "order", "OrderCreated", 1, eventcore.EventData{Type: eventcore.EventDataJSON, JSON: []byte(`{"total":1.0}`)}),
		}
		events[0].AggregateVersion = 1
		if err := store.SaveEventsBatched(ctx, "demo-tenant", aggID, events); err != nil {
			log.Printf("batch enqueue for %q failed: %v", aggID, err)
		}
	}
	time.Sleep(200 * time.Millisecond)
	fmt.Println("📥 submitted 5 aggregates through the batch pipeline")
}

func runFaultInjectionDemo(ctx context.Context, backend storage.Backend, aggregateID string) {
	breaker := storage.NewCircuitBreaker("demo")
	engine := faultinjection.NewEngine()
	exp := faultinjection.BackendTimeoutExperiment(backend, breaker, aggregateID)
	engine.RegisterExperiment(exp)

	exp.Duration = 2 * time.Second
	result, err := engine.RunExperiment(ctx, exp)
	if err != nil {
		log.Printf("fault injection experiment failed to run: %v", err)
		return
	}
	fmt.Printf("🧪 experiment %q hypothesis held: %v\n", result.ExperimentName, result.HypothesisHeld)
}

func loadConfig() *eventcore.Config {
	kind := eventcore.BackendKind(getEnv("EVENTCORE_STORAGE_KIND", "sqlite"))
	cfg := &eventcore.Config{
		Storage: eventcore.StorageConfig{
			Kind:           kind,
			DatabasePath:   getEnv("EVENTCORE_SQLITE_PATH", "./eventcore-demo.db"),
			DSN:            getEnv("EVENTCORE_POSTGRES_DSN", ""),
			MaxConnections: getEnvInt("EVENTCORE_MAX_CONNECTIONS", 10),
			TableName:      getEnv("EVENTCORE_TABLE_NAME", "events"),
			WALPreset:      getEnv("EVENTCORE_WAL_PRESET", "default"),
		},
		Quota: eventcore.QuotaConfig{
			Tier: getEnv("EVENTCORE_QUOTA_TIER", "professional"),
		},
	}
	return cfg
}

func newBackend(cfg *eventcore.Config) (storage.Backend, error) {
	switch cfg.Storage.Kind {
	case eventcore.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return storage.NewPostgresBackend(db, cfg.Storage.TableName), nil
	default:
		wal, _ := storage.WalPreset(cfg.Storage.WALPreset)
		return storage.NewSQLiteBackend(cfg.Storage.DatabasePath,
			storage.WithWAL(wal),
			storage.WithMaxConnections(cfg.Storage.MaxConnections),
			storage.WithTableName(cfg.Storage.TableName),
		)
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
