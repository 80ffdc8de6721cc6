package webhook

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// maxSafeDelay is the Open-Question safety cap applied when scheduling
// a retry; CalculateDelay itself stays uncapped (see DESIGN.md).
const maxSafeDelay = time.Hour

// Processor is the worker callback the Queue invokes for every job
// that becomes due.
type Processor interface {
	ProcessJob(ctx context.Context, job DeliveryJob) error
}

// DeliveryLogger persists a failed DeliveryRecord when a job escapes
// ProcessJob with an unhandled error, so no attempt is silently lost.
type DeliveryLogger interface {
	LogFailedJob(job DeliveryJob, cause error)
}

type jobHeap []*DeliveryJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // higher priority first
	}
	return h[i].ScheduledFor.Before(h[j].ScheduledFor)
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) {
	*h = append(*h, x.(*DeliveryJob))
}
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue is the in-memory, in-process priority queue described in
// §4.4: jobs ordered by (priority desc, scheduledFor asc), processed
// on a tick subject to a concurrency cap, with a retry scheduler
// built in.
type Queue struct {
	mu   sync.Mutex
	heap jobHeap

	processor      Processor
	deliveryLogger DeliveryLogger
	retryPolicy    RetryPolicy
	logger         *slog.Logger

	maxConcurrent   int
	tickInterval    time.Duration
	processingCount int32

	stopCh chan struct{}
	wg     sync.WaitGroup
	ticker *time.Ticker
	tickCh chan struct{}
}

func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		maxConcurrent: DefaultMaxConcurrent,
		tickInterval:  DefaultTickInterval,
		retryPolicy:   DefaultRetryPolicy(),
		logger:        logger,
		tickCh:        make(chan struct{}, 1),
	}
}

func (q *Queue) SetProcessor(p Processor)                { q.processor = p }
func (q *Queue) SetDeliveryLogger(l DeliveryLogger)       { q.deliveryLogger = l }
func (q *Queue) SetMaxConcurrent(n int)                   { q.maxConcurrent = n }
func (q *Queue) SetTickInterval(d time.Duration)          { q.tickInterval = d }
func (q *Queue) SetRetryPolicy(p RetryPolicy)             { q.retryPolicy = p }

// Enqueue inserts job and immediately triggers a processing tick so
// the first attempt isn't held up by the tick interval.
func (q *Queue) Enqueue(job DeliveryJob) {
	q.mu.Lock()
	heap.Push(&q.heap, &job)
	q.mu.Unlock()
	q.wake()
}

// ScheduleRetry inserts a clone of job with attempt advanced, priority
// lowered, scheduledFor pushed out by delayMs, and a freshly generated
// deliveryId — retries must never reuse the deliveryId that preceded
// them (§3 invariant).
func (q *Queue) ScheduleRetry(job DeliveryJob, delayMs int64) {
	if time.Duration(delayMs)*time.Millisecond > maxSafeDelay {
		delayMs = maxSafeDelay.Milliseconds()
	}
	next := job.Clone()
	next.DeliveryID = uuid.NewString()
	next.Attempt = job.Attempt + 1
	next.Priority = RetryPriority
	next.ScheduledFor = time.Now().Add(time.Duration(delayMs) * time.Millisecond)

	q.mu.Lock()
	heap.Push(&q.heap, &next)
	q.mu.Unlock()
}

func (q *Queue) wake() {
	select {
	case q.tickCh <- struct{}{}:
	default:
	}
}

// Start runs the periodic tick loop in the background.
func (q *Queue) Start(ctx context.Context) {
	q.stopCh = make(chan struct{})
	q.ticker = time.NewTicker(q.tickInterval)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-q.ticker.C:
				q.tick()
			case <-q.tickCh:
				q.tick()
			}
		}
	}()
}

// Stop halts future ticks but leaves the in-memory queue intact;
// in-flight jobs continue running to completion.
func (q *Queue) Stop() {
	if q.ticker != nil {
		q.ticker.Stop()
	}
	if q.stopCh != nil {
		close(q.stopCh)
	}
	q.wg.Wait()
}

func (q *Queue) GetStats() QueueStats {
	q.mu.Lock()
	pending := q.heap.Len()
	q.mu.Unlock()
	return QueueStats{
		Pending:    pending,
		Processing: int(atomic.LoadInt32(&q.processingCount)),
	}
}

// tick is one process cycle: jobs due at or before cycleStart are
// taken, highest priority first and earliest scheduledFor first
// within a priority, up to the concurrency cap. Jobs not yet due, or
// that the cap prevented from starting, are left in the queue for the
// next cycle.
func (q *Queue) tick() {
	cycleStart := time.Now()
	seen := make(map[string]struct{})

	var toDispatch []DeliveryJob
	var deferred []*DeliveryJob

	q.mu.Lock()
	for q.heap.Len() > 0 {
		available := q.maxConcurrent - int(atomic.LoadInt32(&q.processingCount)) - len(toDispatch)
		if available <= 0 {
			break
		}
		item := heap.Pop(&q.heap).(*DeliveryJob)
		if _, dup := seen[item.DeliveryID]; dup {
			deferred = append(deferred, item)
			continue
		}
		if item.ScheduledFor.After(cycleStart) {
			deferred = append(deferred, item)
			continue
		}
		seen[item.DeliveryID] = struct{}{}
		toDispatch = append(toDispatch, *item)
	}
	for _, d := range deferred {
		heap.Push(&q.heap, d)
	}
	q.mu.Unlock()

	for i := range toDispatch {
		job := toDispatch[i]
		atomic.AddInt32(&q.processingCount, 1)
		go q.run(job)
	}
}

func (q *Queue) run(job DeliveryJob) {
	defer atomic.AddInt32(&q.processingCount, -1)

	err := q.invokeProcessor(job)
	if err == nil {
		return
	}

	q.logger.Error("webhook job processor returned an unhandled error",
		slog.String("deliveryId", job.DeliveryID), slog.Any("error", err))

	if q.deliveryLogger != nil {
		q.deliveryLogger.LogFailedJob(job, err)
	}

	if IsFinalFailure(job.Attempt, job.MaxAttempts) {
		return
	}
	delay := q.retryPolicy.CalculateDelay(job.Attempt)
	if delay <= 0 {
		delay = minInt64(int64(2<<uint(job.Attempt))*1000, 60_000)
	}
	q.ScheduleRetry(job, delay)
}

// invokeProcessor runs the processor and converts a panic into an
// InternalProcessorBug error (§7: "exception escapes processJob") so a
// single misbehaving job can't take the tick loop down.
func (q *Queue) invokeProcessor(job DeliveryJob) (err error) {
	if q.processor == nil {
		return InternalProcessorBugError("no processor registered", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err = InternalProcessorBugError("panic in processJob", fmt.Errorf("%v", r))
		}
	}()
	return q.processor.ProcessJob(context.Background(), job)
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
