package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
)

// Named analytics queries recognized by every ReadSink implementation.
const (
	QueryTopPages         = "top_pages"
	QueryTopReferrers     = "top_referrers"
	QueryPageViewsInRange = "pageviews_in_range"
	QueryActiveSessions   = "active_sessions"
	QueryMetricSeries     = "metric_series"
)

// ErrUnknownQuery is returned by RunQuery for names outside the registry.
var ErrUnknownQuery = errors.New("unknown query name")

// ErrUnknownDataset is returned by DeleteOlderThan for unrecognized datasets.
var ErrUnknownDataset = errors.New("unknown dataset")

// Filters are the named parameters of an analytics query. Values are kept as
// strings; each query coerces what it needs.
type Filters map[string]string

// Row is one result row of an analytics query.
type Row map[string]interface{}

// Batch is one flush unit handed from the ingest buffer to the write sink.
// Either slice may be empty; a batch never mixes ownership back to the buffer.
type Batch struct {
	PageViews []*v1.PageView
	Metrics   []*v1.SystemMetric
}

// Len returns the total record count across datasets.
func (b Batch) Len() int {
	return len(b.PageViews) + len(b.Metrics)
}

// WriteSink receives flushed batches from the ingest buffer. Implementations
// own their timeout; the buffer never retries beyond a single attempt.
type WriteSink interface {
	WriteBatch(ctx context.Context, batch Batch) error
}

// ReadSink serves analytics reads and retention deletes. RunQuery resolves a
// named query over the given filters; DeleteOlderThan removes every record in
// the dataset older than cutoff and reports how many went away.
type ReadSink interface {
	RunQuery(ctx context.Context, name string, filters Filters) ([]Row, error)
	DeleteOlderThan(ctx context.Context, dataset string, cutoff time.Time) (int64, error)
}
