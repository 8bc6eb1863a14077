package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/models"
)

// jobBackend serves GET /api/v1/jobs/{id} with a canned response.
func jobBackend(t *testing.T, job *models.Job, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(job))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// waitFor polls the condition instead of sleeping a fixed amount, since the
// watcher applies events on its own goroutine.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestReduceJob(t *testing.T) {
	t.Run("ack moves connecting to streaming", func(t *testing.T) {
		s := reduceJob(JobState{Phase: PhaseConnecting}, evAcked{})
		require.Equal(t, PhaseStreaming, s.Phase)
	})

	t.Run("ack from a freshly built watcher state", func(t *testing.T) {
		s := reduceJob(JobState{Phase: PhaseIdle}, evAcked{})
		require.Equal(t, PhaseStreaming, s.Phase)
	})

	t.Run("later progress overwrites earlier", func(t *testing.T) {
		s := JobState{Phase: PhaseStreaming}
		s = reduceJob(s, evProgress{models.JobProgress{Progress: 20, Current: 20, Total: 100}})
		s = reduceJob(s, evProgress{models.JobProgress{Progress: 55, Current: 55, Total: 100, Status: models.JobStatusRunning}})

		require.Equal(t, 55.0, s.Job.Progress)
		require.Equal(t, int64(55), s.Job.Current)
		require.Equal(t, models.JobStatusRunning, s.Job.Status)
	})

	t.Run("completed is not final until resolved", func(t *testing.T) {
		s := reduceJob(JobState{Phase: PhaseStreaming, Loading: true}, evCompleted{})
		require.False(t, s.Completed)
		require.True(t, s.Loading)
		require.Equal(t, models.JobStatusCompleted, s.Job.Status)

		s = reduceJob(s, evResolved{&models.BacktestResult{TotalTrades: 3}})
		require.True(t, s.Completed)
		require.False(t, s.Loading)
		require.Equal(t, PhaseCompleted, s.Phase)
		require.Equal(t, 3, s.Result.TotalTrades)
	})

	t.Run("failure records the message", func(t *testing.T) {
		s := reduceJob(JobState{Phase: PhaseStreaming, Loading: true}, evFailed{models.JobFailure{Message: "strategy blew up"}})
		require.Equal(t, PhaseFailed, s.Phase)
		require.False(t, s.Loading)
		require.EqualError(t, s.Err, "strategy blew up")
	})

	t.Run("auth failure clears loading", func(t *testing.T) {
		s := reduceJob(JobState{Loading: true}, evStreamError{&models.StreamError{Code: models.ErrCodeAuthFailed}})
		require.False(t, s.Loading)
		require.Error(t, s.Err)
	})
}

func TestJobWatcherLifecycle(t *testing.T) {
	full := &models.BacktestResult{
		TotalTrades: 3,
		WinRate:     66.7,
		Transactions: []models.Transaction{
			{TradeID: "t1", Date: "2024-05-01", Type: "buy", Quantity: 1},
		},
	}
	backend := jobBackend(t, &models.Job{
		ID:     "job-1",
		Status: models.JobStatusCompleted,
		Result: full,
	}, http.StatusOK)

	deps, factory := testDeps(backend.URL)
	w, err := WatchJob(context.Background(), deps, "job-1")
	require.NoError(t, err)
	defer w.Close()

	channels := factory.opened()
	require.Len(t, channels, 1)
	ch := channels[0]
	require.Equal(t, "/api/v1/jobs/job-1/stream", ch.path)

	ch.emit(func(h *events.Handlers) {
		h.OnConnection(models.ConnectionAck{})
		h.OnProgress(models.JobProgress{Progress: 20, Current: 20, Total: 100})
		h.OnProgress(models.JobProgress{Progress: 55, Current: 55, Total: 100})
	})

	waitFor(t, func() bool { return w.Snapshot().Job.Progress == 55 })
	require.Equal(t, PhaseStreaming, w.Snapshot().Phase)

	// The streamed summary is truncated; the watcher must supersede it with
	// the REST result before marking the job completed.
	ch.emit(func(h *events.Handlers) {
		h.OnCompleted(models.CompletionNotice{
			JobID:   "job-1",
			Status:  models.JobStatusCompleted,
			Summary: &models.BacktestResult{TotalTrades: 3, Partial: true},
		})
	})

	waitFor(t, func() bool { return w.Snapshot().Completed })
	state := w.Snapshot()
	require.Equal(t, PhaseCompleted, state.Phase)
	require.False(t, state.Loading)
	require.Equal(t, full.WinRate, state.Result.WinRate)
	require.False(t, state.Result.Partial)
	require.False(t, ch.Connected())
}

func TestJobWatcherFallsBackToSummary(t *testing.T) {
	backend := jobBackend(t, nil, http.StatusInternalServerError)

	deps, factory := testDeps(backend.URL)
	w, err := WatchJob(context.Background(), deps, "job-2")
	require.NoError(t, err)
	defer w.Close()

	summary := &models.BacktestResult{TotalTrades: 3, Partial: true}
	factory.opened()[0].emit(func(h *events.Handlers) {
		h.OnConnection(models.ConnectionAck{})
		h.OnCompleted(models.CompletionNotice{JobID: "job-2", Summary: summary})
	})

	waitFor(t, func() bool { return w.Snapshot().Completed })
	state := w.Snapshot()
	require.Equal(t, summary, state.Result)
	require.Equal(t, PhaseCompleted, state.Phase)
}

func TestJobWatcherDeduplicatesTransactions(t *testing.T) {
	backend := jobBackend(t, &models.Job{ID: "job-3", Status: models.JobStatusRunning}, http.StatusOK)

	deps, factory := testDeps(backend.URL)
	w, err := WatchJob(context.Background(), deps, "job-3")
	require.NoError(t, err)
	defer w.Close()

	tx := models.Transaction{TradeID: "t1", Date: "2024-05-01", Type: "buy", Quantity: 2, Price: 1.1}
	other := models.Transaction{TradeID: "t2", Date: "2024-05-01", Type: "sell", Quantity: 2, Price: 1.2}

	factory.opened()[0].emit(func(h *events.Handlers) {
		h.OnTransaction(tx)
		h.OnTransaction(tx) // redelivered
		h.OnTransaction(other)
	})

	waitFor(t, func() bool { return len(w.Snapshot().Transactions) == 2 })
	require.Equal(t, []models.Transaction{tx, other}, w.Snapshot().Transactions)
}

func TestJobWatcherAuthFailure(t *testing.T) {
	backend := jobBackend(t, &models.Job{ID: "job-4"}, http.StatusOK)

	deps, factory := testDeps(backend.URL)
	w, err := WatchJob(context.Background(), deps, "job-4")
	require.NoError(t, err)
	defer w.Close()

	factory.opened()[0].emit(func(h *events.Handlers) {
		h.OnError(&models.StreamError{
			Code:    models.ErrCodeAuthFailed,
			Message: "connection closed before acknowledgment, re-authentication required",
		})
	})

	waitFor(t, func() bool { return !w.Snapshot().Loading })
	state := w.Snapshot()
	require.Error(t, state.Err)
	require.False(t, state.Completed)
	// No reconnect: the transport classified the failure as terminal.
	require.Equal(t, 1, factory.opened()[0].connectCount())
}

func TestJobWatcherCancelled(t *testing.T) {
	backend := jobBackend(t, &models.Job{ID: "job-5"}, http.StatusOK)

	deps, factory := testDeps(backend.URL)
	w, err := WatchJob(context.Background(), deps, "job-5")
	require.NoError(t, err)
	defer w.Close()

	ch := factory.opened()[0]
	ch.emit(func(h *events.Handlers) {
		h.OnCancelled(models.JobFailure{JobID: "job-5", Message: "user cancelled"})
	})

	waitFor(t, func() bool { return w.Snapshot().Phase == PhaseCancelled })
	require.False(t, ch.Connected())
	require.False(t, w.Snapshot().Loading)
}
