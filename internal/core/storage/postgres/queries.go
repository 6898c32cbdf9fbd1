package postgres

// SQL statements for the traffic telemetry sink.

const (
	// queryInsertPageView is the non-batch write path. The batch path uses
	// pq.CopyIn instead and shares the same column order.
	queryInsertPageView = `
		INSERT INTO pageviews (
			id, session_key, path, ip, user_agent, referrer,
			time_on_page, occurred_at, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	queryInsertMetric = `
		INSERT INTO system_metrics (
			id, host, name, value, occurred_at, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	// queryUpsertSession maintains the derived sessions dataset from the
	// page view stream. view_count accumulates across flushes.
	queryUpsertSession = `
		INSERT INTO sessions (session_key, first_seen, last_seen, view_count)
		VALUES ($1, $2, $2, 1)
		ON CONFLICT (session_key)
		DO UPDATE SET
			last_seen  = GREATEST(sessions.last_seen, EXCLUDED.last_seen),
			view_count = sessions.view_count + 1
	`

	queryTopPages = `
		SELECT path, COUNT(*) AS views
		FROM pageviews
		WHERE occurred_at >= $1 AND occurred_at < $2
		GROUP BY path
		ORDER BY views DESC, path ASC
		LIMIT $3
	`

	queryTopReferrers = `
		SELECT referrer, COUNT(*) AS views
		FROM pageviews
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND referrer <> ''
		GROUP BY referrer
		ORDER BY views DESC, referrer ASC
		LIMIT $3
	`

	// queryPageViewsInRange feeds the in-process rollup: the analytics
	// service buckets occurred_at and averages time_on_page itself.
	queryPageViewsInRange = `
		SELECT path, time_on_page, occurred_at
		FROM pageviews
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC
		LIMIT $3
	`

	queryActiveSessions = `
		SELECT COUNT(*) AS active
		FROM sessions
		WHERE last_seen >= $1
	`

	queryMetricSeries = `
		SELECT host, name, value, occurred_at
		FROM system_metrics
		WHERE name = $1
		  AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at ASC
		LIMIT $4
	`

	queryDeletePageViews = `DELETE FROM pageviews WHERE occurred_at < $1`
	queryDeleteSessions  = `DELETE FROM sessions WHERE last_seen < $1`
	queryDeleteMetrics   = `DELETE FROM system_metrics WHERE occurred_at < $1`
)
