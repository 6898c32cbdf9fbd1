package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
	"github.com/veldt-lab/veldt/internal/core/storage"
)

const connectPingTimeout = 5 * time.Second

// pageViewColumns is the shared column order of the insert and CopyIn paths.
var pageViewColumns = []string{
	"id", "session_key", "path", "ip", "user_agent", "referrer",
	"time_on_page", "occurred_at", "ingested_at",
}

// analyticsQueries is the fixed read registry. The optimized path prepares
// these at startup; the fallback path executes them ad hoc per call.
var analyticsQueries = map[string]string{
	storage.QueryTopPages:         queryTopPages,
	storage.QueryTopReferrers:     queryTopReferrers,
	storage.QueryPageViewsInRange: queryPageViewsInRange,
	storage.QueryActiveSessions:   queryActiveSessions,
	storage.QueryMetricSeries:     queryMetricSeries,
}

// Adapter implements storage.WriteSink and storage.ReadSink for PostgreSQL.
//
// Analytics queries are a fixed registry prepared at startup; filters are
// coerced into positional arguments per query. Batch writes use pq.CopyIn
// when enabled, falling back to per-row inserts inside one transaction.
type Adapter struct {
	db             *sql.DB
	batchWrite     bool
	optimizedReads bool

	analyticsStmts map[string]*sql.Stmt
	deleteStmts    map[string]*sql.Stmt
}

// NewAdapter opens a connection pool against the given PostgreSQL DSN and
// prepares the query registry.
//
// Schema must be initialized separately via migrations before the prepared
// statements can compile.
func NewAdapter(dsn string, maxOpenConns, maxIdleConns int, batchWriteEnabled, optimizedReadsEnabled bool) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("[Postgres] Connection pool configured",
		"max_open_conns", maxOpenConns,
		"max_idle_conns", maxIdleConns,
		"batch_write", batchWriteEnabled,
		"optimized_reads", optimizedReadsEnabled)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	a := &Adapter{
		db:             db,
		batchWrite:     batchWriteEnabled,
		optimizedReads: optimizedReadsEnabled,
	}
	if err := a.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("[Postgres] Adapter initialized")
	return a, nil
}

func (a *Adapter) prepareStatements() error {
	deletes := map[string]string{
		v1.DatasetPageViews:     queryDeletePageViews,
		v1.DatasetSessions:      queryDeleteSessions,
		v1.DatasetSystemMetrics: queryDeleteMetrics,
	}

	if a.optimizedReads {
		a.analyticsStmts = make(map[string]*sql.Stmt, len(analyticsQueries))
		for name, q := range analyticsQueries {
			stmt, err := a.db.Prepare(q)
			if err != nil {
				a.closeStatements()
				return fmt.Errorf("failed to prepare query %q: %w", name, err)
			}
			a.analyticsStmts[name] = stmt
		}
	}

	a.deleteStmts = make(map[string]*sql.Stmt, len(deletes))
	for dataset, q := range deletes {
		stmt, err := a.db.Prepare(q)
		if err != nil {
			a.closeStatements()
			return fmt.Errorf("failed to prepare delete for dataset %q: %w", dataset, err)
		}
		a.deleteStmts[dataset] = stmt
	}

	return nil
}

func (a *Adapter) closeStatements() {
	for _, stmt := range a.analyticsStmts {
		stmt.Close()
	}
	for _, stmt := range a.deleteStmts {
		stmt.Close()
	}
}

// DB exposes the underlying handle for migrations and health checks.
func (a *Adapter) DB() *sql.DB {
	return a.db
}

// Close releases prepared statements and the connection pool.
func (a *Adapter) Close() error {
	a.closeStatements()
	return a.db.Close()
}

// WriteBatch persists one flushed batch inside a single transaction.
// Page views also maintain the derived sessions dataset.
func (a *Adapter) WriteBatch(ctx context.Context, batch storage.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	if a.batchWrite {
		err = a.copyPageViews(ctx, tx, batch.PageViews)
	} else {
		err = a.insertPageViews(ctx, tx, batch.PageViews)
	}
	if err != nil {
		return err
	}

	if err := a.upsertSessions(ctx, tx, batch.PageViews); err != nil {
		return err
	}

	if err := a.insertMetrics(ctx, tx, batch.Metrics); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	slog.Debug("[Postgres] Batch written",
		"pageviews", len(batch.PageViews),
		"metrics", len(batch.Metrics))
	return nil
}

func (a *Adapter) copyPageViews(ctx context.Context, tx *sql.Tx, views []*v1.PageView) error {
	if len(views) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("pageviews", pageViewColumns...))
	if err != nil {
		return fmt.Errorf("failed to prepare pageview copy: %w", err)
	}

	for _, pv := range views {
		if _, err := stmt.ExecContext(ctx, pageViewArgs(pv)...); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to buffer pageview copy row: %w", err)
		}
	}

	// Flush the COPY stream.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush pageview copy: %w", err)
	}
	return stmt.Close()
}

func (a *Adapter) insertPageViews(ctx context.Context, tx *sql.Tx, views []*v1.PageView) error {
	if len(views) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, queryInsertPageView)
	if err != nil {
		return fmt.Errorf("failed to prepare pageview insert: %w", err)
	}
	defer stmt.Close()

	for _, pv := range views {
		if _, err := stmt.ExecContext(ctx, pageViewArgs(pv)...); err != nil {
			return fmt.Errorf("failed to insert pageview %s: %w", pv.ID, err)
		}
	}
	return nil
}

func (a *Adapter) upsertSessions(ctx context.Context, tx *sql.Tx, views []*v1.PageView) error {
	if len(views) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, queryUpsertSession)
	if err != nil {
		return fmt.Errorf("failed to prepare session upsert: %w", err)
	}
	defer stmt.Close()

	for _, pv := range views {
		if _, err := stmt.ExecContext(ctx, pv.SessionKey, pv.OccurredAt); err != nil {
			return fmt.Errorf("failed to upsert session: %w", err)
		}
	}
	return nil
}

func (a *Adapter) insertMetrics(ctx context.Context, tx *sql.Tx, metrics []*v1.SystemMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, queryInsertMetric)
	if err != nil {
		return fmt.Errorf("failed to prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Host, m.Name, m.Value, m.OccurredAt, m.IngestedAt); err != nil {
			return fmt.Errorf("failed to insert metric %s: %w", m.ID, err)
		}
	}
	return nil
}

// RunQuery executes a registered analytics query with coerced filters.
func (a *Adapter) RunQuery(ctx context.Context, name string, filters storage.Filters) ([]storage.Row, error) {
	query, ok := analyticsQueries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUnknownQuery, name)
	}

	args, err := argsFor(name, filters)
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	if stmt, ok := a.analyticsStmts[name]; ok {
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = a.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run query %q: %w", name, err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// DeleteOlderThan removes every record in the dataset older than cutoff.
func (a *Adapter) DeleteOlderThan(ctx context.Context, dataset string, cutoff time.Time) (int64, error) {
	stmt, ok := a.deleteStmts[dataset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", storage.ErrUnknownDataset, dataset)
	}

	res, err := stmt.ExecContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", dataset, err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows for %s: %w", dataset, err)
	}
	return deleted, nil
}

func pageViewArgs(pv *v1.PageView) []interface{} {
	return []interface{}{
		pv.ID, pv.SessionKey, pv.Path, pv.IP, pv.UserAgent, pv.Referrer,
		pv.TimeOnPage, pv.OccurredAt, pv.IngestedAt,
	}
}
