package tenancy

import (
	"sync"
	"time"
)

const billingHistoryDays = 30

// BillingEntry is one resource's daily cost record.
type BillingEntry struct {
	Date            time.Time
	Resource        ResourceType
	UnitsConsumed   float64
	BaseCost        float64
	OverageCost     float64
	TierMultiplier  float64
}

// BillingTracker accumulates a 30-day rolling history of per-resource
// daily costs and exposes a month-to-date total and the raw history for
// Quota.GetUsage's billing analytics; no trend summary is computed.
type BillingTracker struct {
	mu      sync.Mutex
	entries []BillingEntry
}

// NewBillingTracker returns an empty tracker.
func NewBillingTracker() *BillingTracker { return &BillingTracker{} }

// RecordCost appends a cost entry and trims the history to the most
// recent 30 days.
func (b *BillingTracker) RecordCost(entry BillingEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	cutoff := time.Now().Add(-billingHistoryDays * 24 * time.Hour)
	trimmed := b.entries[:0]
	for _, e := range b.entries {
		if e.Date.After(cutoff) {
			trimmed = append(trimmed, e)
		}
	}
	b.entries = trimmed
}

// MonthToDateCost sums OverageCost + BaseCost across the retained
// history (bounded to 30 days, so "month to date" is approximate for
// calendar months longer than 30 days).
func (b *BillingTracker) MonthToDateCost() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for _, e := range b.entries {
		total += e.BaseCost + e.OverageCost
	}
	return total
}

// History returns a copy of the retained billing entries.
func (b *BillingTracker) History() []BillingEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BillingEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// PerformanceScore computes the 100-point score: start at 100, deduct 30
// if average utilization exceeds 90%, 15 if it exceeds 70%, 5 if it
// exceeds 50%; add 10 if every resource's pattern is Stable; clamp to
// [0, 100].
func PerformanceScore(avgUtilizationPercent float64, allStable bool) int {
	score := 100
	switch {
	case avgUtilizationPercent > 90:
		score -= 30
	case avgUtilizationPercent > 70:
		score -= 15
	case avgUtilizationPercent > 50:
		score -= 5
	}
	if allStable {
		score += 10
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
