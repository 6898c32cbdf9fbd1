package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/veldt-lab/veldt/internal/core/storage"
)

// Bucket is one rollup window over the page view stream. AvgTimeOnPage is
// computed in decimal so repeated averaging never accumulates float drift;
// views with no reported time are excluded from the average.
type Bucket struct {
	WindowStart   time.Time       `json:"window_start"`
	WindowEnd     time.Time       `json:"window_end"`
	Views         int64           `json:"views"`
	AvgTimeOnPage decimal.Decimal `json:"avg_time_on_page"`
}

// bucketFor truncates a timestamp to the nearest granularity boundary.
// Example: bucketFor(10:35:42, 1*time.Minute) -> 10:35:00
func bucketFor(t time.Time, granularity time.Duration) time.Time {
	return t.Truncate(granularity)
}

type bucketAccum struct {
	views       int64
	timeSum     decimal.Decimal
	timeSamples int64
}

// rollupPageViews folds raw page view rows into granularity-sized windows.
// A zero granularity collapses the whole [start, end) range into one bucket.
// Buckets with no views are emitted zero-valued so the series has no gaps.
func rollupPageViews(rows []storage.Row, granularity time.Duration, start, end time.Time) []Bucket {
	if granularity <= 0 {
		acc := bucketAccum{}
		for _, row := range rows {
			foldRow(&acc, row)
		}
		return []Bucket{finish(start, end, acc)}
	}

	accums := make(map[time.Time]*bucketAccum)
	for _, row := range rows {
		occurred, ok := rowTime(row, "occurred_at")
		if !ok {
			continue
		}
		window := bucketFor(occurred, granularity)
		acc := accums[window]
		if acc == nil {
			acc = &bucketAccum{}
			accums[window] = acc
		}
		foldRow(acc, row)
	}

	var results []Bucket
	current := bucketFor(start, granularity)
	for current.Before(end) {
		windowEnd := current.Add(granularity)
		if acc := accums[current]; acc != nil {
			results = append(results, finish(current, windowEnd, *acc))
		} else {
			results = append(results, finish(current, windowEnd, bucketAccum{}))
		}
		current = windowEnd
	}
	return results
}

func foldRow(acc *bucketAccum, row storage.Row) {
	acc.views++
	if secs, ok := rowInt(row, "time_on_page"); ok && secs > 0 {
		acc.timeSum = acc.timeSum.Add(decimal.NewFromInt(secs))
		acc.timeSamples++
	}
}

func finish(start, end time.Time, acc bucketAccum) Bucket {
	avg := decimal.Zero
	if acc.timeSamples > 0 {
		avg = acc.timeSum.DivRound(decimal.NewFromInt(acc.timeSamples), 2)
	}
	return Bucket{
		WindowStart:   start,
		WindowEnd:     end,
		Views:         acc.views,
		AvgTimeOnPage: avg,
	}
}

func rowTime(row storage.Row, column string) (time.Time, bool) {
	switch v := row[column].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func rowInt(row storage.Row, column string) (int64, bool) {
	switch v := row[column].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
