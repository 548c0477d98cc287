package storage

import "fmt"

// WalJournalMode mirrors sqlite's PRAGMA journal_mode values.
type WalJournalMode string

const (
	JournalDelete   WalJournalMode = "DELETE"
	JournalTruncate WalJournalMode = "TRUNCATE"
	JournalPersist  WalJournalMode = "PERSIST"
	JournalMemory   WalJournalMode = "MEMORY"
	JournalWAL      WalJournalMode = "WAL"
	JournalOff      WalJournalMode = "OFF"
)

// WalSynchronousMode mirrors sqlite's PRAGMA synchronous values.
type WalSynchronousMode string

const (
	SyncOff   WalSynchronousMode = "OFF"
	SyncNormal WalSynchronousMode = "NORMAL"
	SyncFull  WalSynchronousMode = "FULL"
	SyncExtra WalSynchronousMode = "EXTRA"
)

// AutoVacuumMode mirrors sqlite's PRAGMA auto_vacuum values.
type AutoVacuumMode string

const (
	AutoVacuumNone        AutoVacuumMode = "NONE"
	AutoVacuumFull        AutoVacuumMode = "FULL"
	AutoVacuumIncremental AutoVacuumMode = "INCREMENTAL"
)

// WalConfig is the full set of optional WAL tuning knobs for the SQLite
// backend. Values match the presets' source of truth one-for-one.
type WalConfig struct {
	Journal              WalJournalMode
	Synchronous          WalSynchronousMode
	CheckpointIntervalOps int // wal_autocheckpoint, in pages
	CheckpointSizeMB     int
	CacheSizeKB          int // negative = KB, per sqlite convention
	MmapSizeMB           int
	PageSize             int
	AutoVacuum           AutoVacuumMode
}

// DefaultWalConfig is the baseline tuning: balanced durability and
// throughput, suitable when nothing more specific is configured.
func DefaultWalConfig() WalConfig {
	return WalConfig{
		Journal: JournalWAL, Synchronous: SyncNormal,
		CheckpointIntervalOps: 1000, CheckpointSizeMB: 100,
		CacheSizeKB: -2000, MmapSizeMB: 256, PageSize: 4096,
		AutoVacuum: AutoVacuumIncremental,
	}
}

// HighPerformanceWalConfig trades safety margin for throughput: large
// cache, large mmap, infrequent checkpoints.
func HighPerformanceWalConfig() WalConfig {
	return WalConfig{
		Journal: JournalWAL, Synchronous: SyncNormal,
		CheckpointIntervalOps: 2000, CheckpointSizeMB: 200,
		CacheSizeKB: -8000, MmapSizeMB: 1024, PageSize: 4096,
		AutoVacuum: AutoVacuumIncremental,
	}
}

// MemoryOptimizedWalConfig minimizes resident memory at the cost of more
// frequent checkpoints and smaller cache/mmap windows.
func MemoryOptimizedWalConfig() WalConfig {
	return WalConfig{
		Journal: JournalWAL, Synchronous: SyncNormal,
		CheckpointIntervalOps: 500, CheckpointSizeMB: 50,
		CacheSizeKB: -1000, MmapSizeMB: 64, PageSize: 4096,
		AutoVacuum: AutoVacuumIncremental,
	}
}

// SafetyFirstWalConfig favors durability: full fsync, frequent small
// checkpoints, conservative cache/mmap sizing.
func SafetyFirstWalConfig() WalConfig {
	return WalConfig{
		Journal: JournalWAL, Synchronous: SyncFull,
		CheckpointIntervalOps: 100, CheckpointSizeMB: 20,
		CacheSizeKB: -2000, MmapSizeMB: 64, PageSize: 4096,
		AutoVacuum: AutoVacuumIncremental,
	}
}

// WalPreset resolves a named preset to its WalConfig. Unknown names
// resolve to DefaultWalConfig with ok=false so callers can surface a
// ConfigurationError.
func WalPreset(name string) (WalConfig, bool) {
	switch name {
	case "high-performance":
		return HighPerformanceWalConfig(), true
	case "memory-optimized":
		return MemoryOptimizedWalConfig(), true
	case "safety-first":
		return SafetyFirstWalConfig(), true
	case "", "default":
		return DefaultWalConfig(), true
	default:
		return DefaultWalConfig(), false
	}
}

// Pragmas renders the config as the PRAGMA statements the SQLite backend
// executes once, through the pool, when it is opened (connections the
// pool opens later do not re-run them), in an order safe for sqlite to apply
// (journal_mode first, since some pragmas are no-ops until WAL is set).
func (c WalConfig) Pragmas() []string {
	return []string{
		fmt.Sprintf("PRAGMA journal_mode = %s", c.Journal),
		fmt.Sprintf("PRAGMA synchronous = %s", c.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", c.CacheSizeKB),
		fmt.Sprintf("PRAGMA mmap_size = %d", c.MmapSizeMB*1024*1024),
		fmt.Sprintf("PRAGMA page_size = %d", c.PageSize),
		fmt.Sprintf("PRAGMA wal_autocheckpoint = %d", c.CheckpointIntervalOps),
		fmt.Sprintf("PRAGMA auto_vacuum = %s", c.AutoVacuum),
		"PRAGMA foreign_keys = ON",
	}
}
