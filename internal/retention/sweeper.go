package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/veldt-lab/veldt/internal/core/clock"
	"github.com/veldt-lab/veldt/internal/core/storage"
)

const sweepTimeout = 60 * time.Second

// Report is the outcome of one retention sweep. Failures are data, not
// errors: a failed dataset appears in Errors while the others still report
// their deletion counts.
type Report struct {
	StartedAt time.Time        `json:"started_at"`
	Deleted   map[string]int64 `json:"deleted"`
	Errors    []string         `json:"errors,omitempty"`

	// Skipped is true when another sweep was already in flight; nothing
	// was deleted by this invocation.
	Skipped bool `json:"skipped,omitempty"`
}

// Sweeper deletes records past their dataset's retention window. Sweeps are
// mutually exclusive with themselves (an overlapping invocation is a no-op)
// but run freely alongside ingestion and querying: they only touch data past
// the retention horizon, which no live query depends on.
type Sweeper struct {
	sink     storage.ReadSink
	policies []Policy
	clk      clock.Clock
	interval time.Duration

	running atomic.Bool
}

// NewSweeper creates a sweeper over the given policies.
func NewSweeper(sink storage.ReadSink, policies []Policy, clk clock.Clock, interval time.Duration) *Sweeper {
	if sink == nil {
		panic("retention: sink must not be nil")
	}
	if clk == nil {
		panic("retention: clock must not be nil")
	}
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		sink:     sink,
		policies: policies,
		clk:      clk,
		interval: interval,
	}
}

// Periods returns the active policy windows keyed by dataset, for the
// sweeper itself and for callers reporting policy to an auditor.
func (s *Sweeper) Periods() map[string]int {
	periods := make(map[string]int, len(s.policies))
	for _, p := range s.policies {
		periods[p.Dataset] = p.MaxAgeDays
	}
	return periods
}

// EnforceRetention deletes everything older than each dataset's window.
// It never returns an error: per-dataset failures are captured in the
// report, and one dataset's failure does not stop the others.
func (s *Sweeper) EnforceRetention(ctx context.Context) Report {
	report := Report{
		StartedAt: s.clk.Now(),
		Deleted:   make(map[string]int64, len(s.policies)),
	}

	if !s.running.CompareAndSwap(false, true) {
		report.Skipped = true
		slog.Info("[Retention] Sweep already in flight, skipping")
		return report
	}
	defer s.running.Store(false)

	// A sweep that has started runs to completion under its own timeout:
	// caller cancellation (e.g. shutdown) must not interrupt it mid-batch.
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
	defer cancel()

	for _, p := range s.policies {
		cutoff := report.StartedAt.AddDate(0, 0, -p.MaxAgeDays)

		deleted, err := s.sink.DeleteOlderThan(sweepCtx, p.Dataset, cutoff)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: %v", p.Dataset, err))
			slog.Error("[Retention] Dataset sweep failed",
				"dataset", p.Dataset, "cutoff", cutoff, "error", err)
			continue
		}

		report.Deleted[p.Dataset] = deleted
		if deleted > 0 {
			slog.Info("[Retention] Dataset swept",
				"dataset", p.Dataset,
				"cutoff", cutoff,
				"deleted", deleted,
				"max_age_days", p.MaxAgeDays,
			)
		}
	}

	return report
}

// Run sweeps on a fixed interval until ctx is cancelled. A sweep already in
// progress at shutdown is allowed to complete under its own timeout rather
// than being interrupted mid-batch.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Retention] Starting sweeper",
		"interval", s.interval,
		"periods", s.Periods(),
	)

	// Initial sweep so a long interval does not delay first enforcement.
	s.EnforceRetention(ctx)

	for {
		select {
		case <-ticker.C:
			s.EnforceRetention(ctx)
		case <-ctx.Done():
			// A sweep on this loop runs synchronously, so an in-flight one
			// has already completed by the time cancellation is observed.
			slog.Info("[Retention] Stopping (context cancelled)")
			return nil
		}
	}
}
