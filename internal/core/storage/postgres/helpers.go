package postgres

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/veldt-lab/veldt/internal/core/storage"
)

const defaultQueryLimit = 10000

// argsFor coerces the string filters of a named query into its positional
// SQL arguments. Unknown names are rejected before this point.
func argsFor(name string, filters storage.Filters) ([]interface{}, error) {
	switch name {
	case storage.QueryTopPages, storage.QueryTopReferrers, storage.QueryPageViewsInRange:
		from, to, err := timeRange(filters)
		if err != nil {
			return nil, err
		}
		limit, err := limitFilter(filters)
		if err != nil {
			return nil, err
		}
		return []interface{}{from, to, limit}, nil

	case storage.QueryActiveSessions:
		// The range's lower bound doubles as the liveness cutoff.
		since, err := timeFilter(filters, "from")
		if err != nil {
			return nil, err
		}
		return []interface{}{since}, nil

	case storage.QueryMetricSeries:
		metric := filters["metric"]
		if metric == "" {
			return nil, fmt.Errorf("filter %q is required", "metric")
		}
		from, to, err := timeRange(filters)
		if err != nil {
			return nil, err
		}
		limit, err := limitFilter(filters)
		if err != nil {
			return nil, err
		}
		return []interface{}{metric, from, to, limit}, nil
	}

	return nil, fmt.Errorf("%w: %s", storage.ErrUnknownQuery, name)
}

func timeRange(filters storage.Filters) (time.Time, time.Time, error) {
	from, err := timeFilter(filters, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := timeFilter(filters, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("filter %q must be after %q", "to", "from")
	}
	return from, to, nil
}

func timeFilter(filters storage.Filters, key string) (time.Time, error) {
	raw, ok := filters[key]
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("filter %q is required", key)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("filter %q is not RFC3339: %w", key, err)
	}
	return t.UTC(), nil
}

func limitFilter(filters storage.Filters) (int, error) {
	raw, ok := filters["limit"]
	if !ok || raw == "" {
		return defaultQueryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("filter %q must be a positive integer", "limit")
	}
	if limit > defaultQueryLimit {
		limit = defaultQueryLimit
	}
	return limit, nil
}

// scanRows converts a result set into generic rows keyed by column name.
// The query registry is fixed, so callers know which columns to expect.
func scanRows(rows *sql.Rows) ([]storage.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var out []storage.Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}

		row := make(storage.Row, len(cols))
		for i, col := range cols {
			// Text columns arrive as []byte from lib/pq.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate result rows: %w", err)
	}
	return out, nil
}
