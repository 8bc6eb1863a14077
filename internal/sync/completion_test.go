package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

func newCoordinator(t *testing.T, handler http.Handler) *Coordinator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := api.NewClient(&config.BackendConfig{BaseURL: srv.URL}, quietLogger())
	return NewCoordinator(client, quietLogger())
}

func TestCoordinatorResolve(t *testing.T) {
	summary := &models.BacktestResult{TotalTrades: 3, Partial: true}

	t.Run("rest result supersedes the summary", func(t *testing.T) {
		full := &models.BacktestResult{TotalTrades: 3, WinRate: 66.7, TotalReturn: 12.5}
		c := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/jobs/job-1", r.URL.Path)
			json.NewEncoder(w).Encode(models.Job{ID: "job-1", Status: models.JobStatusCompleted, Result: full})
		}))

		got := c.Resolve(context.Background(), "job-1", summary)
		require.Equal(t, full, got)
	})

	t.Run("fetch failure degrades to the summary", func(t *testing.T) {
		c := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
		}))

		got := c.Resolve(context.Background(), "job-1", summary)
		require.Equal(t, summary, got)
	})

	t.Run("job without result degrades to the summary", func(t *testing.T) {
		c := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(models.Job{ID: "job-1", Status: models.JobStatusRunning})
		}))

		got := c.Resolve(context.Background(), "job-1", summary)
		require.Equal(t, summary, got)
	})
}

func TestCoordinatorPollIntervals(t *testing.T) {
	t.Run("polls until the job leaves the active set", func(t *testing.T) {
		var mu sync.Mutex
		statusPolls := 0
		c := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			switch r.URL.Path {
			case "/api/v1/jobs/res-1":
				mu.Lock()
				statusPolls++
				status := models.JobStatusRunning
				if statusPolls >= 3 {
					status = models.JobStatusCompleted
				}
				mu.Unlock()
				json.NewEncoder(w).Encode(models.Job{ID: "res-1", Status: status})
			case "/api/v1/data/res-1":
				json.NewEncoder(w).Encode(models.HistoricalDataResponse{
					Interval: r.URL.Query().Get("interval"),
					Points:   points(1, 2),
				})
			default:
				http.NotFound(w, r)
			}
		}))

		var applied sync.Map
		err := c.PollIntervals(context.Background(), "res-1", []string{"1m", "5m"}, 5*time.Millisecond, 0,
			func(interval string, pts []models.HistoricalDataPoint) {
				applied.Store(interval, len(pts))
			})
		require.NoError(t, err)

		for _, interval := range []string{"1m", "5m"} {
			count, ok := applied.Load(interval)
			require.True(t, ok, "interval %s never applied", interval)
			require.Equal(t, 2, count)
		}
		mu.Lock()
		require.GreaterOrEqual(t, statusPolls, 3)
		mu.Unlock()
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		c := newCoordinator(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(models.Job{ID: "res-1", Status: models.JobStatusRunning})
		}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		err := c.PollIntervals(ctx, "res-1", []string{"1m"}, 5*time.Millisecond, 0, func(string, []models.HistoricalDataPoint) {})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
