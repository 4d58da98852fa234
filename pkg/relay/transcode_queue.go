package relay

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TranscodeQueue rate-limits and prioritizes dispatch of external
// transcode-start commands: one fires whenever a stream's Auto-mode
// trigger switches it to Transcode, which invokes an
// out-of-process transcoder this repo does not implement (no video
// encoding per the Non-goals). Without a queue, simultaneous trigger
// fires across many streams would all invoke the external transcoder at
// once; this absorbs that burst and re-queues a failed command ahead of
// fresh ones, up to maxTranscodeRetries times, with no added delay.
//
// Adapted from an earlier rate-limited device-command queue that
// serialized calls against an external API's rate limit with a priority
// heap. Here there is one command kind (StartTranscode) so the
// heap degenerates to FIFO-by-arrival, but retried commands are requeued
// at higher priority than fresh ones so a flapping stream doesn't starve
// behind new arrivals.
type TranscodeQueue struct {
	logger  *slog.Logger
	limiter *rate.Limiter

	mu   sync.Mutex
	heap ticketHeap

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats struct {
		mu          sync.Mutex
		enqueued    int64
		executed    int64
		failed      int64
		retried     int64
	}
}

// TranscodeCommand is one dispatch unit: start transcoding streamID with
// the given bitrate variants. Execute performs the actual external call.
type TranscodeCommand struct {
	StreamID string
	Variants []string
	Execute  func(ctx context.Context) error
}

type ticket struct {
	cmd      TranscodeCommand
	attempt  int
	enqueued time.Time
	index    int
}

type ticketHeap []*ticket

func (h ticketHeap) Len() int { return len(h) }
func (h ticketHeap) Less(i, j int) bool {
	// Higher attempt count (a retry) goes first; ties broken FIFO.
	if h[i].attempt != h[j].attempt {
		return h[i].attempt > h[j].attempt
	}
	return h[i].enqueued.Before(h[j].enqueued)
}
func (h ticketHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *ticketHeap) Push(x interface{}) {
	t := x.(*ticket)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *ticketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

const maxTranscodeRetries = 3

// NewTranscodeQueue creates a queue dispatching at most commandsPerMinute
// transcode-start commands per minute, with no burst allowance.
func NewTranscodeQueue(commandsPerMinute float64, logger *slog.Logger) *TranscodeQueue {
	ctx, cancel := context.WithCancel(context.Background())
	qps := rate.Limit(commandsPerMinute / 60.0)

	q := &TranscodeQueue{
		logger:  logger,
		limiter: rate.NewLimiter(qps, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	heap.Init(&q.heap)
	return q
}

// Start begins the dispatch worker.
func (q *TranscodeQueue) Start() {
	q.wg.Add(1)
	go q.loop()
}

// Stop cancels the dispatch worker and waits for it to exit.
func (q *TranscodeQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Submit enqueues a transcode-start command for the stream. Non-blocking:
// the command executes asynchronously once the rate limiter admits it.
func (q *TranscodeQueue) Submit(cmd TranscodeCommand) {
	q.mu.Lock()
	heap.Push(&q.heap, &ticket{cmd: cmd, enqueued: time.Now()})
	depth := q.heap.Len()
	q.mu.Unlock()

	q.stats.mu.Lock()
	q.stats.enqueued++
	q.stats.mu.Unlock()

	q.logger.Debug("transcode command enqueued", "stream_id", cmd.StreamID, "queue_depth", depth)
}

func (q *TranscodeQueue) loop() {
	defer q.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchNext()
		}
	}
}

func (q *TranscodeQueue) dispatchNext() {
	q.mu.Lock()
	if q.heap.Len() == 0 {
		q.mu.Unlock()
		return
	}
	t := heap.Pop(&q.heap).(*ticket)
	q.mu.Unlock()

	if err := q.limiter.Wait(q.ctx); err != nil {
		return
	}

	if t.cmd.Execute == nil {
		q.logger.Warn("transcode command has no execute function", "stream_id", t.cmd.StreamID)
		return
	}

	err := q.runWithTimeout(t.cmd.Execute)

	q.stats.mu.Lock()
	q.stats.executed++
	if err != nil {
		q.stats.failed++
	}
	q.stats.mu.Unlock()

	if err != nil {
		q.logger.Warn("transcode command failed", "stream_id", t.cmd.StreamID, "attempt", t.attempt, "error", err)
		if t.attempt < maxTranscodeRetries {
			t.attempt++
			q.stats.mu.Lock()
			q.stats.retried++
			q.stats.mu.Unlock()
			q.mu.Lock()
			heap.Push(&q.heap, t)
			q.mu.Unlock()
		}
		return
	}

	q.logger.Info("transcode command dispatched", "stream_id", t.cmd.StreamID, "variants", t.cmd.Variants)
}

func (q *TranscodeQueue) runWithTimeout(execute func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(q.ctx, 30*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- execute(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("transcode command timed out: %w", ctx.Err())
	}
}

// Stats reports queue counters.
type TranscodeQueueStats struct {
	Enqueued int64
	Executed int64
	Failed   int64
	Retried  int64
	Depth    int
}

// Stats returns a snapshot of the queue's counters.
func (q *TranscodeQueue) Stats() TranscodeQueueStats {
	q.mu.Lock()
	depth := q.heap.Len()
	q.mu.Unlock()

	q.stats.mu.Lock()
	defer q.stats.mu.Unlock()
	return TranscodeQueueStats{
		Enqueued: q.stats.enqueued,
		Executed: q.stats.executed,
		Failed:   q.stats.failed,
		Retried:  q.stats.retried,
		Depth:    depth,
	}
}
