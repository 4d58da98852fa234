package relay

import (
	"container/heap"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testQueueLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTranscodeQueue_DispatchesSubmittedCommand(t *testing.T) {
	q := NewTranscodeQueue(6000, testQueueLogger()) // high rate so the test doesn't wait on the limiter
	q.Start()
	defer q.Stop()

	var ran atomic.Bool
	done := make(chan struct{})
	q.Submit(TranscodeCommand{
		StreamID: "cam-1",
		Variants: []string{"360p", "720p"},
		Execute: func(ctx context.Context) error {
			ran.Store(true)
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transcode command never executed")
	}

	require.True(t, ran.Load())
	stats := q.Stats()
	require.Equal(t, int64(1), stats.Enqueued)
	require.Equal(t, int64(1), stats.Executed)
	require.Equal(t, int64(0), stats.Failed)
}

func TestTranscodeQueue_RetriesFailedCommand(t *testing.T) {
	q := NewTranscodeQueue(6000, testQueueLogger())
	q.Start()
	defer q.Stop()

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Submit(TranscodeCommand{
		StreamID: "cam-2",
		Execute: func(ctx context.Context) error {
			n := attempts.Add(1)
			if n < 2 {
				return errors.New("transient failure")
			}
			close(done)
			return nil
		},
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("transcode command never succeeded after retry")
	}

	require.GreaterOrEqual(t, attempts.Load(), int32(2))
	stats := q.Stats()
	require.GreaterOrEqual(t, stats.Retried, int64(1))
}

func TestTranscodeQueue_GivesUpAfterMaxRetries(t *testing.T) {
	q := NewTranscodeQueue(6000, testQueueLogger())
	q.Start()
	defer q.Stop()

	var attempts atomic.Int32
	q.Submit(TranscodeCommand{
		StreamID: "cam-3",
		Execute: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.New("permanent failure")
		},
	})

	require.Eventually(t, func() bool {
		return attempts.Load() == int32(maxTranscodeRetries+1)
	}, 3*time.Second, 20*time.Millisecond)

	// No further attempts after exhausting retries.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(maxTranscodeRetries+1), attempts.Load())
}

func TestTranscodeQueue_RetriedCommandDispatchesBeforeFreshArrival(t *testing.T) {
	q := NewTranscodeQueue(6000, testQueueLogger())

	// Seed the heap directly to exercise priority ordering without timing
	// dependence on the dispatch loop.
	q.mu.Lock()
	now := time.Now()
	heap.Push(&q.heap, &ticket{cmd: TranscodeCommand{StreamID: "fresh"}, enqueued: now, attempt: 0})
	heap.Push(&q.heap, &ticket{cmd: TranscodeCommand{StreamID: "retry"}, enqueued: now.Add(time.Second), attempt: 1})
	first := heap.Pop(&q.heap).(*ticket)
	q.mu.Unlock()

	require.Equal(t, "retry", first.cmd.StreamID)
}
