package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veldt-lab/veldt/internal/core/storage"
	"github.com/veldt-lab/veldt/internal/querycache"
)

const defaultGranularity = "total"

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid stats query")

// StatsRequest is a normalized analytics read.
type StatsRequest struct {
	Query       string
	From        time.Time
	To          time.Time
	Granularity string
	Limit       string
	Metric      string
}

// StatsResponse is the analytics read result. Exactly one of Rows or Buckets
// is populated: bucketed rollups for the page view range query, raw sink rows
// for everything else.
type StatsResponse struct {
	Query       string        `json:"query"`
	From        time.Time     `json:"from"`
	To          time.Time     `json:"to"`
	Granularity string        `json:"granularity,omitempty"`
	Rows        []storage.Row `json:"rows,omitempty"`
	Buckets     []Bucket      `json:"buckets,omitempty"`
}

// Service implements the analytics read path: named sink queries fronted by
// the TTL query cache, with in-process time-bucket rollups for the page view
// range query.
type Service struct {
	sink  storage.ReadSink
	cache *querycache.Cache
	ttl   time.Duration
}

// NewService creates the analytics service. The cache may be running
// disabled; it still mediates every read so the bypass counters stay honest.
func NewService(sink storage.ReadSink, cache *querycache.Cache, ttl time.Duration) *Service {
	if sink == nil {
		panic("analytics: sink must not be nil")
	}
	if cache == nil {
		panic("analytics: cache must not be nil")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{sink: sink, cache: cache, ttl: ttl}
}

// Query executes a stats read, consulting the cache unless bypass is set.
func (s *Service) Query(ctx context.Context, req StatsRequest, bypass bool) (*StatsResponse, querycache.Status, error) {
	req, err := s.normalizeAndValidate(req)
	if err != nil {
		return nil, querycache.StatusBypass, err
	}

	filters := s.filtersFor(req)
	compute := func(ctx context.Context) (interface{}, error) {
		return s.execute(ctx, req, filters)
	}

	var (
		value  interface{}
		status querycache.Status
	)
	if bypass {
		value, status, err = s.cache.Bypass(ctx, compute)
	} else {
		key := querycache.Key(req.Query, filters)
		value, status, err = s.cache.Fetch(ctx, key, s.ttl, compute)
	}
	if err != nil {
		return nil, status, err
	}

	resp, ok := value.(*StatsResponse)
	if !ok {
		return nil, status, fmt.Errorf("unexpected cached value type %T", value)
	}
	return resp, status, nil
}

// CacheStats exposes the query cache counters.
func (s *Service) CacheStats() querycache.Stats {
	return s.cache.Stats()
}

func (s *Service) normalizeAndValidate(req StatsRequest) (StatsRequest, error) {
	if req.Granularity == "" {
		req.Granularity = defaultGranularity
	}

	if req.Query == "" {
		return req, invalidQueryf("query is required")
	}
	if req.From.IsZero() || req.To.IsZero() {
		return req, invalidQueryf("from and to are required")
	}
	if !req.To.After(req.From) {
		return req, invalidQueryf("to must be after from")
	}

	switch req.Query {
	case storage.QueryTopPages, storage.QueryTopReferrers,
		storage.QueryPageViewsInRange, storage.QueryActiveSessions,
		storage.QueryMetricSeries:
	default:
		return req, invalidQueryf("unknown query: %s", req.Query)
	}

	if req.Query == storage.QueryMetricSeries && req.Metric == "" {
		return req, invalidQueryf("metric is required for %s", storage.QueryMetricSeries)
	}

	if _, err := granularityDuration(req.Granularity); err != nil {
		return req, err
	}

	return req, nil
}

// filtersFor maps the request onto sink filters. Granularity participates in
// the cache key via the filter map even though the sink ignores it: the same
// row set rolled up differently is a different cached result.
func (s *Service) filtersFor(req StatsRequest) storage.Filters {
	filters := storage.Filters{
		"from": req.From.UTC().Format(time.RFC3339),
		"to":   req.To.UTC().Format(time.RFC3339),
	}
	if req.Limit != "" {
		filters["limit"] = req.Limit
	}
	if req.Metric != "" {
		filters["metric"] = req.Metric
	}
	if req.Query == storage.QueryPageViewsInRange {
		filters["granularity"] = req.Granularity
	}
	return filters
}

// execute runs the named query against the sink and shapes the response.
func (s *Service) execute(ctx context.Context, req StatsRequest, filters storage.Filters) (*StatsResponse, error) {
	// The sink only understands its own filter names.
	sinkFilters := make(storage.Filters, len(filters))
	for k, v := range filters {
		if k == "granularity" {
			continue
		}
		sinkFilters[k] = v
	}

	rows, err := s.sink.RunQuery(ctx, req.Query, sinkFilters)
	if err != nil {
		return nil, err
	}

	resp := &StatsResponse{
		Query: req.Query,
		From:  req.From,
		To:    req.To,
	}

	if req.Query == storage.QueryPageViewsInRange {
		granularity, gerr := granularityDuration(req.Granularity)
		if gerr != nil {
			return nil, gerr
		}
		resp.Granularity = req.Granularity
		resp.Buckets = rollupPageViews(rows, granularity, req.From, req.To)
		return resp, nil
	}

	resp.Rows = rows
	return resp, nil
}

// granularityDuration resolves a granularity label. "total" collapses the
// whole range into one bucket.
func granularityDuration(label string) (time.Duration, error) {
	switch label {
	case "total":
		return 0, nil
	case "1m":
		return time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, invalidQueryf("invalid granularity: %s (must be total, 1m, 1h, or 1d)", label)
	}
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
