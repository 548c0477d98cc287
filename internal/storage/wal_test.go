package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalPresetExactValues(t *testing.T) {
	cfg, ok := WalPreset("high-performance")
	assert.True(t, ok)
	assert.Equal(t, 2000, cfg.CheckpointIntervalOps)
	assert.Equal(t, 1024, cfg.MmapSizeMB)

	cfg, ok = WalPreset("memory-optimized")
	assert.True(t, ok)
	assert.Equal(t, 64, cfg.MmapSizeMB)
	assert.Equal(t, 500, cfg.CheckpointIntervalOps)

	cfg, ok = WalPreset("safety-first")
	assert.True(t, ok)
	assert.Equal(t, SyncFull, cfg.Synchronous)

	cfg, ok = WalPreset("")
	assert.True(t, ok)
	assert.Equal(t, DefaultWalConfig(), cfg)

	_, ok = WalPreset("nonsense")
	assert.False(t, ok)
}

func TestWalConfigPragmasOrderedJournalModeFirst(t *testing.T) {
	pragmas := DefaultWalConfig().Pragmas()
	assert.Contains(t, pragmas[0], "journal_mode")
	assert.Len(t, pragmas, 8)
}
