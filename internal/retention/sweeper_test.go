package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	v1 "github.com/veldt-lab/veldt/internal/api/v1"
	"github.com/veldt-lab/veldt/internal/core/clock"
	"github.com/veldt-lab/veldt/internal/core/storage"
)

// recordingSink counts deletions by replaying a scripted timeline: each
// dataset has a queue of results consumed one sweep at a time.
type recordingSink struct {
	mu      sync.Mutex
	deletes []deleteCall
	results map[string][]int64
	failSet map[string]error
	block   chan struct{} // when non-nil, DeleteOlderThan blocks until closed
}

type deleteCall struct {
	dataset string
	cutoff  time.Time
}

func (s *recordingSink) RunQuery(ctx context.Context, name string, filters storage.Filters) ([]storage.Row, error) {
	return nil, storage.ErrUnknownQuery
}

func (s *recordingSink) DeleteOlderThan(ctx context.Context, dataset string, cutoff time.Time) (int64, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, deleteCall{dataset: dataset, cutoff: cutoff})

	if err, ok := s.failSet[dataset]; ok {
		return 0, err
	}

	queue := s.results[dataset]
	if len(queue) == 0 {
		return 0, nil
	}
	n := queue[0]
	s.results[dataset] = queue[1:]
	return n, nil
}

func (s *recordingSink) calls() []deleteCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]deleteCall, len(s.deletes))
	copy(out, s.deletes)
	return out
}

func TestSweeper_EnforceRetention_AllDatasets(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &recordingSink{results: map[string][]int64{
		v1.DatasetPageViews:     {100},
		v1.DatasetSessions:      {20},
		v1.DatasetSystemMetrics: {7},
	}}
	s := NewSweeper(sink, DefaultPolicies(), clock.NewManual(now), time.Hour)

	report := s.EnforceRetention(context.Background())

	require.False(t, report.Skipped)
	require.Empty(t, report.Errors)
	require.Equal(t, int64(100), report.Deleted[v1.DatasetPageViews])
	require.Equal(t, int64(20), report.Deleted[v1.DatasetSessions])
	require.Equal(t, int64(7), report.Deleted[v1.DatasetSystemMetrics])

	// Cutoffs honor each dataset's window.
	for _, call := range sink.calls() {
		switch call.dataset {
		case v1.DatasetPageViews:
			require.Equal(t, now.AddDate(0, 0, -180), call.cutoff)
		case v1.DatasetSessions:
			require.Equal(t, now.AddDate(0, 0, -30), call.cutoff)
		case v1.DatasetSystemMetrics:
			require.Equal(t, now.AddDate(0, 0, -90), call.cutoff)
		}
	}
}

func TestSweeper_PartialFailureIsolation(t *testing.T) {
	sink := &recordingSink{
		results: map[string][]int64{
			v1.DatasetSessions:      {5},
			v1.DatasetSystemMetrics: {3},
		},
		failSet: map[string]error{
			v1.DatasetPageViews: errors.New("lock timeout"),
		},
	}
	s := NewSweeper(sink, DefaultPolicies(), clock.System{}, time.Hour)

	report := s.EnforceRetention(context.Background())

	// One dataset failed; the other two still swept.
	require.Len(t, report.Errors, 1)
	require.Contains(t, report.Errors[0], v1.DatasetPageViews)
	require.Equal(t, int64(5), report.Deleted[v1.DatasetSessions])
	require.Equal(t, int64(3), report.Deleted[v1.DatasetSystemMetrics])
	require.NotContains(t, report.Deleted, v1.DatasetPageViews)
	require.Len(t, sink.calls(), 3)
}

func TestSweeper_DoubleRunDoesNotDoubleCount(t *testing.T) {
	sink := &recordingSink{results: map[string][]int64{
		v1.DatasetPageViews: {42}, // second sweep falls through to 0
	}}
	s := NewSweeper(sink, []Policy{{Dataset: v1.DatasetPageViews, MaxAgeDays: 30}}, clock.System{}, time.Hour)

	first := s.EnforceRetention(context.Background())
	second := s.EnforceRetention(context.Background())

	require.Equal(t, int64(42), first.Deleted[v1.DatasetPageViews])
	require.Equal(t, int64(0), second.Deleted[v1.DatasetPageViews])
	require.False(t, second.Skipped)
}

func TestSweeper_OverlappingInvocationIsNoop(t *testing.T) {
	block := make(chan struct{})
	sink := &recordingSink{block: block, results: map[string][]int64{}}
	s := NewSweeper(sink, []Policy{{Dataset: v1.DatasetPageViews, MaxAgeDays: 30}}, clock.System{}, time.Hour)

	started := make(chan Report, 1)
	go func() {
		started <- s.EnforceRetention(context.Background())
	}()

	// Wait for the first sweep to be inside the sink call.
	require.Eventually(t, func() bool {
		return s.running.Load()
	}, time.Second, time.Millisecond)

	overlap := s.EnforceRetention(context.Background())
	require.True(t, overlap.Skipped)
	require.Empty(t, overlap.Deleted)

	close(block)
	first := <-started
	require.False(t, first.Skipped)
	require.Len(t, sink.calls(), 1)
}

func TestSweeper_Periods(t *testing.T) {
	s := NewSweeper(&recordingSink{}, DefaultPolicies(), clock.System{}, time.Hour)

	periods := s.Periods()
	require.Equal(t, 180, periods[v1.DatasetPageViews])
	require.Equal(t, 30, periods[v1.DatasetSessions])
	require.Equal(t, 90, periods[v1.DatasetSystemMetrics])

	// The accessor hands out a copy, not the live policy set.
	periods[v1.DatasetPageViews] = 1
	require.Equal(t, 180, s.Periods()[v1.DatasetPageViews])
}

func TestLoadPolicyFile_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - dataset: pageviews
    max_age_days: 30
`), 0o644))

	policies, err := LoadPolicyFile(path)
	require.NoError(t, err)

	byDataset := make(map[string]int)
	for _, p := range policies {
		byDataset[p.Dataset] = p.MaxAgeDays
	}
	require.Equal(t, 30, byDataset[v1.DatasetPageViews])
	require.Equal(t, 30, byDataset[v1.DatasetSessions])
	require.Equal(t, 90, byDataset[v1.DatasetSystemMetrics])
}

func TestLoadPolicyFile_RejectsUnknownDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - dataset: audit_log
    max_age_days: 10
`), 0o644))

	_, err := LoadPolicyFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "audit_log")
}

func TestLoadPolicyFile_RejectsNonPositiveWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retention.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - dataset: sessions
    max_age_days: 0
`), 0o644))

	_, err := LoadPolicyFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_age_days")
}
