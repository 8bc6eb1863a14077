package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/models"
)

func points(times ...int64) []models.HistoricalDataPoint {
	out := make([]models.HistoricalDataPoint, len(times))
	for i, ts := range times {
		out[i] = models.HistoricalDataPoint{Time: ts, Close: float64(ts)}
	}
	return out
}

func pointTimes(pts []models.HistoricalDataPoint) []int64 {
	out := make([]int64, len(pts))
	for i, p := range pts {
		out[i] = p.Time
	}
	return out
}

func TestMergePoints(t *testing.T) {
	t.Run("overlapping chunks deduplicate by timestamp", func(t *testing.T) {
		seen := make(map[int64]struct{})
		merged := MergePoints(nil, seen, points(1, 2))
		merged = MergePoints(merged, seen, points(2, 3))

		require.Equal(t, []int64{1, 2, 3}, pointTimes(merged))
	})

	t.Run("redelivered chunk is a no-op", func(t *testing.T) {
		seen := make(map[int64]struct{})
		merged := MergePoints(nil, seen, points(1, 2))
		merged = MergePoints(merged, seen, points(1, 2))

		require.Len(t, merged, 2)
	})

	t.Run("arrival order is preserved", func(t *testing.T) {
		seen := make(map[int64]struct{})
		merged := MergePoints(nil, seen, points(5, 3))
		merged = MergePoints(merged, seen, points(4))

		require.Equal(t, []int64{5, 3, 4}, pointTimes(merged))
	})
}

func TestHistoryOptionsKey(t *testing.T) {
	a := HistoryOptions{ResourceID: "r1", Intervals: []string{"1m", "5m", "1h"}}
	b := HistoryOptions{ResourceID: "r1", Intervals: []string{"1h", "1m", "5m"}}
	c := HistoryOptions{ResourceID: "r1", Intervals: []string{"1m", "5m"}}

	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), c.Key())
	require.NotEqual(t, a.Key(), HistoryOptions{ResourceID: "r2", Intervals: []string{"1m", "5m", "1h"}}.Key())
}

func TestHistoryWatcherStreaming(t *testing.T) {
	newWatcher := func(t *testing.T, intervals ...string) (*HistoryWatcher, *fakeFactory) {
		deps, factory := testDeps("http://backend.invalid")
		w, err := WatchHistory(context.Background(), deps, HistoryOptions{
			ResourceID: "res-1",
			Intervals:  intervals,
		})
		require.NoError(t, err)
		t.Cleanup(w.Close)
		return w, factory
	}

	t.Run("one channel per interval", func(t *testing.T) {
		_, factory := newWatcher(t, "1m", "5m")

		channels := factory.opened()
		require.Len(t, channels, 2)
		for _, ch := range channels {
			require.Equal(t, "/api/v1/data/res-1/stream", ch.path)
		}
		require.NotNil(t, factory.byInterval("1m"))
		require.NotNil(t, factory.byInterval("5m"))
	})

	t.Run("chunks accumulate per interval with dedup", func(t *testing.T) {
		w, factory := newWatcher(t, "1m")

		ch := factory.byInterval("1m")
		ch.emit(func(h *events.Handlers) {
			h.OnIntervalStart(models.IntervalStart{Interval: "1m", TotalPoints: 3})
			h.OnDataChunk(models.DataChunk{Interval: "1m", Points: points(1, 2)})
			h.OnDataChunk(models.DataChunk{Interval: "1m", Points: points(2, 3)})
			h.OnComplete(models.StreamDone{TotalPoints: 3})
		})

		state := w.Snapshot()["1m"]
		require.Equal(t, []int64{1, 2, 3}, pointTimes(state.Points))
		require.True(t, state.Complete)
		require.False(t, state.Loading)
		require.False(t, w.Loading())
	})

	t.Run("interval failure never halts siblings", func(t *testing.T) {
		w, factory := newWatcher(t, "1m", "5m")

		factory.byInterval("1m").emit(func(h *events.Handlers) {
			h.OnError(&models.StreamError{Code: models.ErrCodeConnectionError, Message: "lost"})
		})
		factory.byInterval("5m").emit(func(h *events.Handlers) {
			h.OnDataChunk(models.DataChunk{Interval: "5m", Points: points(10)})
			h.OnIntervalComplete(models.IntervalComplete{Interval: "5m", TotalPoints: 1})
		})

		snap := w.Snapshot()
		require.Error(t, snap["1m"].Err)
		require.NoError(t, snap["5m"].Err)
		require.Len(t, snap["5m"].Points, 1)
		require.True(t, snap["5m"].Complete)
		// Multi-interval subscriptions keep the watcher-level error clear.
		require.NoError(t, w.Err())
	})

	t.Run("single interval connection error escalates", func(t *testing.T) {
		w, factory := newWatcher(t, "1m")

		factory.byInterval("1m").emit(func(h *events.Handlers) {
			h.OnError(&models.StreamError{Code: models.ErrCodeConnectionError, Message: "lost"})
		})

		require.Error(t, w.Err())
		require.False(t, w.Loading())
	})

	t.Run("loading is the OR across intervals", func(t *testing.T) {
		w, factory := newWatcher(t, "1m", "5m")

		factory.byInterval("1m").emit(func(h *events.Handlers) {
			h.OnComplete(models.StreamDone{})
		})

		require.True(t, w.Loading())

		factory.byInterval("5m").emit(func(h *events.Handlers) {
			h.OnComplete(models.StreamDone{})
		})
		require.False(t, w.Loading())
	})
}

func TestHistoryWatcherReconfigure(t *testing.T) {
	deps, factory := testDeps("http://backend.invalid")
	w, err := WatchHistory(context.Background(), deps, HistoryOptions{
		ResourceID: "res-1",
		Intervals:  []string{"1m", "5m"},
	})
	require.NoError(t, err)
	defer w.Close()

	require.Len(t, factory.opened(), 2)

	t.Run("reordered intervals keep connections", func(t *testing.T) {
		err := w.Reconfigure(context.Background(), HistoryOptions{
			ResourceID: "res-1",
			Intervals:  []string{"5m", "1m"},
		})
		require.NoError(t, err)
		require.Len(t, factory.opened(), 2)
		for _, ch := range factory.opened() {
			require.True(t, ch.Connected())
		}
	})

	t.Run("real change tears down and reopens", func(t *testing.T) {
		err := w.Reconfigure(context.Background(), HistoryOptions{
			ResourceID: "res-1",
			Intervals:  []string{"1h"},
		})
		require.NoError(t, err)

		channels := factory.opened()
		require.Len(t, channels, 3)
		require.False(t, channels[0].Connected())
		require.False(t, channels[1].Connected())
		require.True(t, channels[2].Connected())
		require.Equal(t, "1h", channels[2].params.Get("interval"))
	})
}

func TestHistoryWatcherPolling(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/jobs/res-2":
			status := models.JobStatusRunning
			if polls.Add(1) >= 2 {
				status = models.JobStatusCompleted
			}
			json.NewEncoder(w).Encode(models.Job{ID: "res-2", Status: status})
		case "/api/v1/data/res-2":
			json.NewEncoder(w).Encode(models.HistoricalDataResponse{
				ResourceID: "res-2",
				Interval:   r.URL.Query().Get("interval"),
				Points:     points(1, 2, 3),
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	deps, factory := testDeps(srv.URL)
	w := WatchHistoryPolling(context.Background(), deps, HistoryOptions{
		ResourceID: "res-2",
		Intervals:  []string{"1m"},
	}, 10*time.Millisecond)
	defer w.Close()

	waitFor(t, func() bool { return w.Snapshot()["1m"].Complete })

	state := w.Snapshot()["1m"]
	require.Equal(t, []int64{1, 2, 3}, pointTimes(state.Points))
	require.True(t, state.Complete)
	// Polling mode never opens live channels.
	require.Empty(t, factory.opened())
}

func TestHistoryWatcherRefresh(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/data/res-9", r.URL.Path)
		interval := r.URL.Query().Get("interval")
		if interval == "5m" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(models.HistoricalDataResponse{
			ResourceID: "res-9",
			Interval:   interval,
			Points:     points(10, 11, 12),
			Count:      3,
		}))
	}))
	t.Cleanup(backend.Close)

	deps, factory := testDeps(backend.URL)
	w, err := WatchHistory(context.Background(), deps, HistoryOptions{
		ResourceID: "res-9",
		Intervals:  []string{"1m", "5m"},
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)

	// Seed stale streamed points that the refresh must replace wholesale.
	factory.byInterval("1m").emit(func(h *events.Handlers) {
		h.OnDataChunk(models.DataChunk{Interval: "1m", Points: points(1, 2)})
	})
	waitFor(t, func() bool { return len(w.Snapshot()["1m"].Points) == 2 })

	err = w.Refresh(context.Background())
	require.Error(t, err) // the 5m fetch failed

	snap := w.Snapshot()
	require.Equal(t, []int64{10, 11, 12}, pointTimes(snap["1m"].Points))
	require.False(t, snap["1m"].Loading)
	require.Error(t, snap["5m"].Err)
	require.Empty(t, snap["5m"].Points)

	// A repeated refresh after the replacement still dedups by timestamp.
	require.Error(t, w.Refresh(context.Background()))
	require.Equal(t, []int64{10, 11, 12}, pointTimes(w.Snapshot()["1m"].Points))
}
