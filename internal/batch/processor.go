package batch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ItemProcessor is a two-method interface: ProcessItem handles one item,
// ProcessBatch handles a whole batch. A storage-aware processor
// overrides ProcessBatch to open one transaction per batch; the default
// SequentialProcessor below iterates ProcessItem with no transaction.
type ItemProcessor[T any] interface {
	ProcessItem(ctx context.Context, item T) error
	ProcessBatch(ctx context.Context, items []T) error
}

// FailureError reports which item in a batch failed first; processing
// MUST NOT continue past this point.
type FailureError struct {
	Index int
	Err   error
}

func (e *FailureError) Error() string { return fmt.Sprintf("item %d failed: %v", e.Index, e.Err) }
func (e *FailureError) Unwrap() error { return e.Err }

// SequentialProcessor is the default ItemProcessor: it calls Process for
// each item in order, with no transaction, stopping at the first error.
type SequentialProcessor[T any] struct {
	Process func(ctx context.Context, item T) error
}

func (s SequentialProcessor[T]) ProcessItem(ctx context.Context, item T) error { return s.Process(ctx, item) }

func (s SequentialProcessor[T]) ProcessBatch(ctx context.Context, items []T) error {
	for i, item := range items {
		if err := s.ProcessItem(ctx, item); err != nil {
			return &FailureError{Index: i, Err: err}
		}
	}
	return nil
}

// lifecycleState is the processor's Start/Stop state machine.
type lifecycleState int32

const (
	stopped lifecycleState = iota
	running
	draining
)

// bufItem wraps a buffered item with its priority and arrival time.
type bufItem[T any] struct {
	item       T
	priority   Priority
	enqueuedAt time.Time
}

// Batch is a drained, dispatchable group of items.
type Batch[T any] struct {
	BatchID   uint64
	Items     []T
	Priority  Priority
	CreatedAt time.Time
}

// Processor is the adaptive-sized batch ingestion pipeline: a single
// buffer behind one mutex/condition-variable, a single collector
// goroutine, and a bounded worker pool.
type Processor[T any] struct {
	cfg       Config
	processor ItemProcessor[T]
	stats     *Stats

	mu    sync.Mutex
	cond  *sync.Cond
	bands map[Priority][]bufItem[T]
	state lifecycleState

	adaptiveSize int64 // accessed via atomic outside the lock in AddItem's fast read

	nextBatchID uint64

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	stopCh chan struct{}

	onResult func(Result)
}

// OnResult registers a callback invoked synchronously with every batch's
// Result, success or failure — the only way a caller observes an
// individual *BatchProcessingError, since ProcessBatch runs on a worker
// goroutine the submitter of AddItem never sees. Must be called before
// Start; not safe to change while running.
func (p *Processor[T]) OnResult(fn func(Result)) { p.onResult = fn }

// New builds a Processor against cfg and processor. The processor is
// not started; call Start to spawn the collector and worker pool.
func New[T any](cfg Config, processor ItemProcessor[T]) *Processor[T] {
	p := &Processor[T]{
		cfg:       cfg,
		processor: processor,
		stats:     NewStats(),
		bands:     make(map[Priority][]bufItem[T]),
		sem:       semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
	}
	p.cond = sync.NewCond(&p.mu)
	atomic.StoreInt64(&p.adaptiveSize, int64(cfg.MaxBatchSize))
	return p
}

// Stats exposes the pipeline's continuously-updated statistics.
func (p *Processor[T]) Stats() Snapshot { return p.stats.Snapshot() }

// Start transitions the processor to Running and spawns the collector
// and adaptive-sizing goroutines. Starting an already-running processor
// fails with *InvalidStateError.
func (p *Processor[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state == running {
		p.mu.Unlock()
		return &InvalidStateError{Component: "batch.Processor", State: "already running"}
	}
	p.state = running
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.collectorLoop(ctx)

	if p.cfg.AdaptiveSizing {
		p.wg.Add(1)
		go p.adaptiveSizingLoop()
	}

	return nil
}

// Stop transitions to Draining: the collector stops accepting new
// notifications, drains what remains, and Stop waits for every in-flight
// worker to finish before returning.
func (p *Processor[T]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != running {
		p.mu.Unlock()
		return &InvalidStateError{Component: "batch.Processor", State: "not running"}
	}
	p.state = draining
	close(p.stopCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { p.wg.Wait(); close(done) }()

	select {
	case <-done:
		p.mu.Lock()
		p.state = stopped
		p.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueDepthLocked returns the total number of buffered items across all
// priority bands. Caller must hold p.mu.
func (p *Processor[T]) queueDepthLocked() int {
	n := 0
	for _, band := range p.bands {
		n += len(band)
	}
	return n
}

// AddItem enqueues item at Normal priority. See AddItemWithPriority.
func (p *Processor[T]) AddItem(ctx context.Context, item T) error {
	return p.AddItemWithPriority(ctx, item, Normal)
}

// AddItemWithPriority enqueues item, rejecting with *InvalidStateError if
// the processor is not Running, or *BackpressureError if the queue
// depth / MaxPendingBatches ratio exceeds BackpressureThreshold.
func (p *Processor[T]) AddItemWithPriority(ctx context.Context, item T, priority Priority) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != running {
		return &InvalidStateError{Component: "batch.Processor", State: "not running"}
	}

	depth := p.queueDepthLocked()
	if p.cfg.MaxPendingBatches > 0 {
		ratio := float64(depth) / float64(p.cfg.MaxPendingBatches)
		if ratio > p.cfg.BackpressureThreshold {
			p.stats.RecordBackpressure()
			return &BackpressureError{QueueDepth: depth, Threshold: p.cfg.BackpressureThreshold}
		}
	}

	p.bands[priority] = append(p.bands[priority], bufItem[T]{item: item, priority: priority, enqueuedAt: time.Now()})
	p.stats.SetQueueDepth(depth + 1)
	p.cond.Signal()
	return nil
}

// drainLocked removes up to the current adaptive size worth of items,
// draining higher-priority bands first, FIFO within each band. While the
// processor is running, returns nil if the minimum batch size has not
// been reached and the oldest item has not exceeded MaxWaitMs; once Stop
// has moved it to draining, whatever is buffered is drained regardless.
func (p *Processor[T]) drainLocked() []bufItem[T] {
	total := p.queueDepthLocked()
	if total == 0 {
		return nil
	}

	oldest := time.Now()
	for _, band := range p.bands {
		for _, it := range band {
			if it.enqueuedAt.Before(oldest) {
				oldest = it.enqueuedAt
			}
		}
	}
	waitedEnough := time.Since(oldest) >= p.cfg.MaxWait()

	if total < p.cfg.MinBatchSize && !waitedEnough && p.state == running {
		return nil
	}

	n := int(atomic.LoadInt64(&p.adaptiveSize))
	if n <= 0 || n > total {
		n = total
	}

	var drained []bufItem[T]
	for _, pr := range [...]Priority{Critical, High, Normal, Low} {
		band := p.bands[pr]
		for len(drained) < n && len(band) > 0 {
			drained = append(drained, band[0])
			band = band[1:]
		}
		p.bands[pr] = band
	}
	return drained
}

// collectorLoop is the single task that wakes on notification or on
// MaxWaitMs timeout, drains the buffer, and always dispatches through
// the worker pool, including on the timeout/partial-drain path. There
// is no direct-call shortcut for small or stale batches; every drained
// batch gets a semaphore slot and runs through dispatch.
func (p *Processor[T]) collectorLoop(ctx context.Context) {
	defer p.wg.Done()

	stopTicker := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.cfg.MaxWait())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-stopTicker:
				return
			}
		}
	}()
	defer close(stopTicker)

	for {
		p.mu.Lock()
		for p.queueDepthLocked() == 0 && p.state == running {
			p.cond.Wait()
		}
		if p.state != running && p.queueDepthLocked() == 0 {
			p.mu.Unlock()
			return
		}
		drained := p.drainLocked()
		if len(drained) > 0 {
			p.stats.SetQueueDepth(p.queueDepthLocked())
		}
		stillRunning := p.state == running
		if len(drained) == 0 && stillRunning {
			// Below MinBatchSize and not yet stale: sleep until the next
			// AddItem signal or the MaxWaitMs ticker's broadcast.
			p.cond.Wait()
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		if len(drained) > 0 {
			p.dispatch(ctx, drained)
		}
		if !stillRunning && len(drained) == 0 {
			return
		}
	}
}

// dispatch wraps drained items into a Batch and hands it to a worker
// pool slot, always through the semaphore-bounded pool.
func (p *Processor[T]) dispatch(ctx context.Context, drained []bufItem[T]) {
	items := make([]T, len(drained))
	priority := Low
	for i, it := range drained {
		items[i] = it.item
		if it.priority > priority {
			priority = it.priority
		}
	}
	batch := Batch[T]{
		BatchID:   atomic.AddUint64(&p.nextBatchID, 1),
		Items:     items,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return // context cancelled; batch is dropped only on shutdown cancellation
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		p.runBatch(ctx, batch)
	}()
}

func (p *Processor[T]) runBatch(ctx context.Context, b Batch[T]) {
	start := time.Now()
	err := p.processor.ProcessBatch(ctx, b.Items)
	elapsed := time.Since(start)

	result := Result{BatchID: b.BatchID, ItemsProcessed: len(b.Items), ProcessingTime: elapsed}
	if elapsed > 0 {
		result.Throughput = float64(len(b.Items)) / elapsed.Seconds()
	}
	if err != nil {
		// A batch's transaction is all-or-nothing: whatever index failed,
		// the commit never happened, so nothing in this batch persisted.
		result.FailedItems = 1
		result.SuccessfulItems = 0
		result.Errors = []string{err.Error()}
	} else {
		result.SuccessfulItems = len(b.Items)
	}
	p.stats.RecordResult(result)
	if p.onResult != nil {
		p.onResult(result)
	}
}

// adaptiveSizingLoop re-evaluates the adaptive batch size every 5
// seconds against the target batch time.
func (p *Processor[T]) adaptiveSizingLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.adjustAdaptiveSize()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Processor[T]) adjustAdaptiveSize() {
	snap := p.stats.Snapshot()
	if snap.TotalBatches == 0 {
		return
	}
	target := p.cfg.TargetBatchTime()
	lo, hi := p.cfg.MinBatchSize, p.cfg.MaxBatchSize
	if lo > hi {
		lo, hi = hi, lo
	}

	current := atomic.LoadInt64(&p.adaptiveSize)
	next := current
	switch {
	case snap.AvgProcessingTime > time.Duration(float64(target)*1.2):
		next = int64(float64(current) * 0.9)
	case snap.AvgProcessingTime < time.Duration(float64(target)*0.8):
		next = int64(float64(current) * 1.1)
	default:
		return
	}
	if next < int64(lo) {
		next = int64(lo)
	}
	if next > int64(hi) {
		next = int64(hi)
	}
	if next != current {
		atomic.StoreInt64(&p.adaptiveSize, next)
		p.stats.RecordAdaptiveAdjustment()
	}
}

// CurrentAdaptiveSize returns the collector's current target batch size.
func (p *Processor[T]) CurrentAdaptiveSize() int { return int(atomic.LoadInt64(&p.adaptiveSize)) }

// Flush drains the buffer synchronously through a single processor
// invocation, regardless of batch-size thresholds, bypassing the worker
// pool entirely (there is no concurrency to bound for a single
// synchronous call).
func (p *Processor[T]) Flush(ctx context.Context) error {
	p.mu.Lock()
	var items []T
	for _, pr := range [...]Priority{Critical, High, Normal, Low} {
		for _, it := range p.bands[pr] {
			items = append(items, it.item)
		}
		p.bands[pr] = nil
	}
	p.stats.SetQueueDepth(0)
	p.mu.Unlock()

	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	err := p.processor.ProcessBatch(ctx, items)
	elapsed := time.Since(start)

	result := Result{BatchID: atomic.AddUint64(&p.nextBatchID, 1), ItemsProcessed: len(items), ProcessingTime: elapsed}
	if err != nil {
		result.FailedItems = 1
		result.Errors = []string{err.Error()}
	} else {
		result.SuccessfulItems = len(items)
	}
	p.stats.RecordResult(result)
	if p.onResult != nil {
		p.onResult(result)
	}
	return err
}

// InvalidStateError mirrors eventcore.InvalidStateError without an
// import cycle (batch must not depend on eventcore).
type InvalidStateError struct {
	Component string
	State     string
}

func (e *InvalidStateError) Error() string { return fmt.Sprintf("%s is not valid in state %q", e.Component, e.State) }

// BackpressureError mirrors eventcore.BackpressureAppliedError.
type BackpressureError struct {
	QueueDepth int
	Threshold  float64
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("backpressure applied: queue depth %d exceeds threshold %.2f", e.QueueDepth, e.Threshold)
}
