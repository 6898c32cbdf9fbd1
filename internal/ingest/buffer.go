package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
	"github.com/veldt-lab/veldt/internal/core/clock"
	"github.com/veldt-lab/veldt/internal/core/storage"
)

const (
	defaultBatchSize     = 500
	defaultMaxPending    = 10000
	defaultFlushInterval = 10 * time.Second

	// flushQueueDepth bounds how many threshold-triggered batches can wait
	// on the flusher while a slow sink write is in progress.
	flushQueueDepth = 4

	shutdownDrainTimeout = 30 * time.Second
)

// Options controls buffer capacity and flush cadence.
type Options struct {
	// BatchSize is the pending count that triggers an immediate flush.
	BatchSize int

	// MaxPending is the hard cap on buffered records. When reached, the
	// oldest pending records are dropped: ingestion favors availability
	// over completeness.
	MaxPending int

	// FlushInterval triggers a flush even when BatchSize is never reached.
	FlushInterval time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.MaxPending <= 0 {
		n.MaxPending = defaultMaxPending
	}
	if n.MaxPending < n.BatchSize {
		n.MaxPending = n.BatchSize
	}
	if n.FlushInterval <= 0 {
		n.FlushInterval = defaultFlushInterval
	}
	return n
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	Pending       int       `json:"pending"`
	Submitted     uint64    `json:"submitted"`
	Dropped       uint64    `json:"dropped"`
	Flushes       uint64    `json:"flushes"`
	FlushFailures uint64    `json:"flush_failures"`
	LastFlushAt   time.Time `json:"last_flush_at"`
}

// Buffer coalesces telemetry records in memory and flushes them in batches
// to the write sink. Submitters only ever touch the pending slices under a
// mutex for an O(1) append-and-maybe-swap; sink writes happen on the flusher
// goroutine, so a slow or unavailable sink never blocks a producer.
type Buffer struct {
	mu        sync.Mutex
	pageViews []*v1.PageView
	metrics   []*v1.SystemMetric
	lastFlush time.Time

	sink storage.WriteSink
	clk  clock.Clock
	opts Options

	// full receives batches swapped out when the size threshold is hit.
	full chan storage.Batch

	flushInFlight atomic.Bool
	submitted     atomic.Uint64
	dropped       atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
}

// NewBuffer creates an ingest buffer in front of the given write sink.
func NewBuffer(sink storage.WriteSink, clk clock.Clock, opts Options) *Buffer {
	if sink == nil {
		panic("ingest: sink must not be nil")
	}
	if clk == nil {
		panic("ingest: clock must not be nil")
	}
	opts = opts.normalized()
	return &Buffer{
		sink:      sink,
		clk:       clk,
		opts:      opts,
		pageViews: make([]*v1.PageView, 0, opts.BatchSize),
		lastFlush: clk.Now(),
		full:      make(chan storage.Batch, flushQueueDepth),
	}
}

// SubmitPageView appends a page view. Fire-and-forget: it never blocks and
// never reports sink failures to the caller.
func (b *Buffer) SubmitPageView(pv *v1.PageView) {
	if pv == nil {
		return
	}
	b.mu.Lock()
	b.pageViews = append(b.pageViews, pv)
	b.submitted.Add(1)
	b.afterAppendLocked()
	b.mu.Unlock()
}

// SubmitMetric appends a system metric sample with the same contract as
// SubmitPageView.
func (b *Buffer) SubmitMetric(m *v1.SystemMetric) {
	if m == nil {
		return
	}
	b.mu.Lock()
	b.metrics = append(b.metrics, m)
	b.submitted.Add(1)
	b.afterAppendLocked()
	b.mu.Unlock()
}

// afterAppendLocked enforces the size-threshold trigger and the hard cap.
// Callers hold b.mu.
func (b *Buffer) afterAppendLocked() {
	if len(b.pageViews)+len(b.metrics) >= b.opts.BatchSize {
		batch := storage.Batch{PageViews: b.pageViews, Metrics: b.metrics}
		select {
		case b.full <- batch:
			b.resetLocked()
			return
		default:
			// Flusher is saturated; records stay pending and the hard cap
			// below bounds memory.
		}
	}

	// Oldest-drop when a flush cannot be scheduled before the cap.
	for len(b.pageViews)+len(b.metrics) > b.opts.MaxPending {
		if len(b.pageViews) > 0 {
			b.pageViews = b.pageViews[1:]
		} else {
			b.metrics = b.metrics[1:]
		}
		b.dropped.Add(1)
	}
}

// resetLocked starts a fresh pending buffer after a swap. Callers hold b.mu.
func (b *Buffer) resetLocked() {
	b.pageViews = make([]*v1.PageView, 0, b.opts.BatchSize)
	b.metrics = nil
	b.lastFlush = b.clk.Now()
}

// Size returns the current pending record count.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pageViews) + len(b.metrics)
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pageViews) + len(b.metrics)
	last := b.lastFlush
	b.mu.Unlock()

	return Stats{
		Pending:       pending,
		Submitted:     b.submitted.Load(),
		Dropped:       b.dropped.Load(),
		Flushes:       b.flushes.Load(),
		FlushFailures: b.flushFailures.Load(),
		LastFlushAt:   last,
	}
}

// Flush swaps out whatever is pending and writes it to the sink. Used by the
// interval trigger and the shutdown drain; safe to call concurrently with
// submitters, which immediately accumulate into the fresh buffer.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pageViews)+len(b.metrics) == 0 {
		b.mu.Unlock()
		return
	}
	batch := storage.Batch{PageViews: b.pageViews, Metrics: b.metrics}
	b.resetLocked()
	b.mu.Unlock()

	b.writeBatch(ctx, batch)
}

// writeBatch performs the sink write with a single retry. Failed batches are
// discarded and counted; they are never requeued.
func (b *Buffer) writeBatch(ctx context.Context, batch storage.Batch) {
	if batch.Len() == 0 {
		return
	}

	b.flushInFlight.Store(true)
	defer b.flushInFlight.Store(false)

	// A write that has started runs to completion even when the flusher's
	// context is cancelled mid-batch; the drain timeout bounds it instead.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownDrainTimeout)
	defer cancel()

	err := b.sink.WriteBatch(writeCtx, batch)
	if err != nil {
		slog.Warn("[IngestBuffer] Batch write failed, retrying once",
			"records", batch.Len(), "error", err)
		err = b.sink.WriteBatch(writeCtx, batch)
	}

	if err != nil {
		b.flushFailures.Add(1)
		b.dropped.Add(uint64(batch.Len()))
		slog.Error("[IngestBuffer] Batch discarded after retry",
			"records", batch.Len(), "error", err)
		return
	}

	b.flushes.Add(1)
	slog.Debug("[IngestBuffer] Batch flushed", "records", batch.Len())
}

// Run drives interval flushes and drains threshold batches until ctx is
// cancelled, then performs a final drain so records accepted before shutdown
// are not lost mid-batch.
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	slog.Info("[IngestBuffer] Starting flusher",
		"batch_size", b.opts.BatchSize,
		"max_pending", b.opts.MaxPending,
		"flush_interval", b.opts.FlushInterval,
	)

	for {
		select {
		case batch := <-b.full:
			b.writeBatch(ctx, batch)
		case <-ticker.C:
			b.Flush(ctx)
		case <-ctx.Done():
			slog.Info("[IngestBuffer] Stopping (context cancelled)")

			// Drain threshold batches already swapped out, then what is
			// still pending. writeBatch detaches each write from the
			// cancelled context and applies the drain timeout.
			for {
				select {
				case batch := <-b.full:
					b.writeBatch(ctx, batch)
					continue
				default:
				}
				break
			}
			b.Flush(ctx)

			slog.Info("[IngestBuffer] Final drain complete")
			return nil
		}
	}
}
