package querycache

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veldt-lab/veldt/internal/core/clock"
)

func TestKey_OrderInsensitive(t *testing.T) {
	a := Key("top_pages", map[string]string{"from": "2026-03-01", "to": "2026-03-02"})
	b := Key("top_pages", map[string]string{"to": "2026-03-02", "from": "2026-03-01"})
	require.Equal(t, a, b)
}

func TestKey_Distinguishes(t *testing.T) {
	base := Key("top_pages", map[string]string{"from": "a", "to": "b"})

	require.NotEqual(t, base, Key("top_referrers", map[string]string{"from": "a", "to": "b"}))
	require.NotEqual(t, base, Key("top_pages", map[string]string{"from": "a", "to": "c"}))
	require.NotEqual(t, base, Key("top_pages", map[string]string{"from": "a"}))

	// Key/value boundaries must not be ambiguous.
	require.NotEqual(t,
		Key("q", map[string]string{"ab": "c"}),
		Key("q", map[string]string{"a": "bc"}),
	)
}

func TestCache_MissThenHitThenMiss(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	var computes atomic.Int64
	compute := func(ctx context.Context) (interface{}, error) {
		computes.Add(1)
		return "V", nil
	}

	value, status, err := c.Fetch(context.Background(), "k", 300*time.Second, compute)
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
	require.Equal(t, "V", value)
	require.Equal(t, int64(1), computes.Load())

	// t = 299s: still within TTL.
	clk.Advance(299 * time.Second)
	value, status, err = c.Fetch(context.Background(), "k", 300*time.Second, compute)
	require.NoError(t, err)
	require.Equal(t, StatusHit, status)
	require.Equal(t, "V", value)
	require.Equal(t, int64(1), computes.Load())

	// t = 301s: expired, recomputed.
	clk.Advance(2 * time.Second)
	_, status, err = c.Fetch(context.Background(), "k", 300*time.Second, compute)
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
	require.Equal(t, int64(2), computes.Load())
}

func TestCache_ExactTTLBoundaryIsExpired(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	_, _, err := c.Fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})
	require.NoError(t, err)

	// Servable iff now - storedAt < ttl: equality is dead.
	clk.Advance(time.Minute)
	_, status, err := c.Fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
}

func TestCache_ComputeErrorNotCached(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	boom := errors.New("sink down")
	_, status, err := c.Fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, StatusMiss, status)

	// The failure was not cached: the next call computes again and succeeds.
	value, status, err := c.Fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
	require.Equal(t, "ok", value)
}

func TestCache_BypassDoesNotWriteBack(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	value, status, err := c.Bypass(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "diagnostic", nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusBypass, status)
	require.Equal(t, "diagnostic", value)

	// Nothing was stored: a Fetch for any key still misses.
	_, status, err = c.Fetch(context.Background(), "k", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
	require.Equal(t, 1, c.Stats().Entries)
}

func TestCache_DisabledAlwaysBypasses(t *testing.T) {
	c := New(clock.System{}, false)

	var computes int
	for i := 0; i < 3; i++ {
		_, status, err := c.Fetch(context.Background(), "k", time.Hour, func(ctx context.Context) (interface{}, error) {
			computes++
			return computes, nil
		})
		require.NoError(t, err)
		require.Equal(t, StatusBypass, status)
	}
	require.Equal(t, 3, computes)
	require.Equal(t, 0, c.Stats().Entries)
}

func TestCache_SingleFlightCollapsesConcurrentMisses(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	var computes atomic.Int64
	release := make(chan struct{})
	compute := func(ctx context.Context) (interface{}, error) {
		computes.Add(1)
		<-release
		return "V", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, _, err := c.Fetch(context.Background(), "hot", time.Minute, compute)
			require.NoError(t, err)
			require.Equal(t, "V", value)
		}()
	}

	// Let the goroutines pile onto the flight, then release the leader.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), computes.Load())
}

func TestCache_Invalidate(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	c := New(clk, true)

	_, _, err := c.Fetch(context.Background(), "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		return "v1", nil
	})
	require.NoError(t, err)

	c.Invalidate("k")

	value, status, err := c.Fetch(context.Background(), "k", time.Hour, func(ctx context.Context) (interface{}, error) {
		return "v2", nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusMiss, status)
	require.Equal(t, "v2", value)
}

func TestShouldBypass(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/stats/site?query=top_pages", nil)
	require.False(t, ShouldBypass(r))

	r = httptest.NewRequest("GET", "/v1/stats/site?query=top_pages&refresh=1", nil)
	require.True(t, ShouldBypass(r))

	r = httptest.NewRequest("GET", "/v1/stats/site", nil)
	r.Header.Set(BypassHeader, "1")
	require.True(t, ShouldBypass(r))
}
