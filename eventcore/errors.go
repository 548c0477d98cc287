package eventcore

import "fmt"

// OptimisticConcurrencyError reports a write that lost the race for the
// next (aggregate_id, aggregate_version) slot.
type OptimisticConcurrencyError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *OptimisticConcurrencyError) Error() string {
	return fmt.Sprintf("optimistic concurrency conflict on aggregate %q: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

// InvalidEventDataError reports a row that could not be decoded: an
// unknown event_data_type tag, a malformed UUID, or a malformed timestamp.
type InvalidEventDataError struct {
	AggregateID string
	Reason      string
}

func (e *InvalidEventDataError) Error() string {
	return fmt.Sprintf("invalid event data for aggregate %q: %s", e.AggregateID, e.Reason)
}

// DatabaseError wraps any backend I/O or query failure not already
// classified as OptimisticConcurrencyError.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("database error during %s: %v", e.Op, e.Err) }
func (e *DatabaseError) Unwrap() error { return e.Err }

// ConfigurationError reports a fatal initialization-time problem: an
// invalid path, a bad backend URL, a missing required field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on %q: %s", e.Field, e.Reason)
}

// InvalidStateError reports an operation attempted against a processor or
// session in the wrong lifecycle state (duplicate start, use-after-stop).
type InvalidStateError struct {
	Component string
	State     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is not valid in state %q", e.Component, e.State)
}

// BackpressureAppliedError signals that the batch pipeline's queue is
// above its configured threshold; the caller is expected to defer and
// retry with backoff, never to treat this as a fatal error.
type BackpressureAppliedError struct {
	QueueDepth int
	Threshold  float64
}

func (e *BackpressureAppliedError) Error() string {
	return fmt.Sprintf("backpressure applied: queue depth %d exceeds threshold %.2f", e.QueueDepth, e.Threshold)
}

// BatchProcessingError reports that an item within a batch failed; the
// whole batch's transaction was rolled back and processing stopped at
// the first failing item.
type BatchProcessingError struct {
	BatchID      uint64
	FailedIndex  int
	ItemErr      error
}

func (e *BatchProcessingError) Error() string {
	return fmt.Sprintf("batch %d failed at item %d: %v", e.BatchID, e.FailedIndex, e.ItemErr)
}
func (e *BatchProcessingError) Unwrap() error { return e.ItemErr }

// QuotaExceededError reports that check_quota denied a request even with
// grace applied.
type QuotaExceededError struct {
	TenantID string
	Resource string
	Current  float64
	Limit    float64
	Attempted float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %q exceeded quota for %s: current=%.2f limit=%.2f attempted=%.2f", e.TenantID, e.Resource, e.Current, e.Limit, e.Attempted)
}

// TenantError reports an isolation violation, an unknown tenant, or an
// invalid tenant id. Fatal for the request that triggered it.
type TenantError struct {
	TenantID string
	Reason   string
}

func (e *TenantError) Error() string { return fmt.Sprintf("tenant %q: %s", e.TenantID, e.Reason) }

// EncryptionError reports a key mismatch, decode failure, or IV error
// surfaced by the Encryptor the core is configured with.
type EncryptionError struct {
	Reason string
}

func (e *EncryptionError) Error() string { return fmt.Sprintf("encryption error: %s", e.Reason) }
