package batch

import (
	"context"
	"fmt"

	"github.com/jules-labs/eventcore/internal/storage"
)

// BatchProcessingError mirrors eventcore.BatchProcessingError without an
// import cycle (batch must not depend on eventcore). It names the item
// whose transaction rolled back the whole batch.
type BatchProcessingError struct {
	FailedIndex int
	Err         error
}

func (e *BatchProcessingError) Error() string {
	return fmt.Sprintf("batch processing failed at item %d: %v", e.FailedIndex, e.Err)
}
func (e *BatchProcessingError) Unwrap() error { return e.Err }

// StorageEventProcessor is the storage-backed ItemProcessor: ProcessBatch
// opens one transaction on the wrapped backend and commits or rolls back
// the whole batch atomically, rather than SequentialProcessor's
// no-transaction per-item loop.
type StorageEventProcessor struct {
	Backend storage.Backend
}

// NewStorageEventProcessor wraps backend for use as a Processor's
// ItemProcessor.
func NewStorageEventProcessor(backend storage.Backend) *StorageEventProcessor {
	return &StorageEventProcessor{Backend: backend}
}

// ProcessItem saves a single event outside of any batch transaction; it
// exists to satisfy ItemProcessor and is used only if a caller drives
// this processor one item at a time instead of through ProcessBatch.
func (s *StorageEventProcessor) ProcessItem(ctx context.Context, item storage.StoredEvent) error {
	return s.Backend.SaveEvents(ctx, []storage.StoredEvent{item})
}

// ProcessBatch opens one transaction on the backend for the whole batch.
// On the first item's failure it rolls back and returns
// *BatchProcessingError naming the offending index; on success of every
// item it commits. The index is only available when the backend
// implements TransactionalProcessor; otherwise FailedIndex is -1.
func (s *StorageEventProcessor) ProcessBatch(ctx context.Context, items []storage.StoredEvent) error {
	if len(items) == 0 {
		return nil
	}

	if tp, ok := s.Backend.(storage.TransactionalProcessor); ok {
		failedIndex, err := tp.SaveEventsIndexed(ctx, items)
		if err != nil {
			return &BatchProcessingError{FailedIndex: failedIndex, Err: err}
		}
		return nil
	}

	// Backend only reports all-or-nothing; -1 means "unknown item" rather
	// than falsely attributing the failure to a specific index.
	if err := s.Backend.SaveEvents(ctx, items); err != nil {
		return &BatchProcessingError{FailedIndex: -1, Err: err}
	}
	return nil
}
