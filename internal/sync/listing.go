package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/models"
)

// ListingKind selects which server-side collection a ListingWatcher mirrors.
type ListingKind string

const (
	ListingJobs      ListingKind = "jobs"
	ListingBacktests ListingKind = "backtests"
)

// Pure listing reducers. Replaying an identical event log from any valid
// starting snapshot yields identical final state, so they are exported for
// direct testing.

// ApplySnapshot replaces the whole collection.
func ApplySnapshot(items []models.Job) []models.Job {
	out := make([]models.Job, len(items))
	copy(out, items)
	return out
}

// ApplyAdded prepends a new record.
func ApplyAdded(items []models.Job, job models.Job) []models.Job {
	out := make([]models.Job, 0, len(items)+1)
	out = append(out, job)
	return append(out, items...)
}

// ApplyUpdated replaces the record with a matching id; no-op when absent.
func ApplyUpdated(items []models.Job, job models.Job) []models.Job {
	out := make([]models.Job, len(items))
	copy(out, items)
	for i := range out {
		if out[i].ID == job.ID {
			out[i] = job
		}
	}
	return out
}

// ApplyRemoved filters the record with the given id out.
func ApplyRemoved(items []models.Job, id string) []models.Job {
	out := make([]models.Job, 0, len(items))
	for _, item := range items {
		if item.ID != id {
			out = append(out, item)
		}
	}
	return out
}

// ListingWatcher mirrors an ordered collection of job records keyed by id.
// Every mutation is a pure function of (event, previous collection), so no
// partial update is ever observable in a snapshot.
type ListingWatcher struct {
	kind         ListingKind
	statusFilter string
	limit        int
	deps         Deps
	channel      transport.Channel
	log          *logrus.Entry

	done   chan struct{}
	closer sync.Once

	mu      sync.RWMutex
	items   []models.Job
	loading bool
	err     error
}

// WatchListing subscribes to a jobs or backtest-history listing stream.
func WatchListing(ctx context.Context, deps Deps, kind ListingKind, statusFilter string, limit int) (*ListingWatcher, error) {
	w := &ListingWatcher{
		kind:         kind,
		statusFilter: statusFilter,
		limit:        limit,
		deps:         deps,
		log:          deps.Log.WithFields(logrus.Fields{"component": "listing-watcher", "kind": string(kind)}),
		done:         make(chan struct{}),
		loading:      true,
	}

	params := url.Values{}
	if statusFilter != "" {
		params.Set("status", statusFilter)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/jobs/stream"
	if kind == ListingBacktests {
		path = "/api/v1/backtests/stream"
	}
	w.channel = deps.Channels.Channel(path, params)

	handlers := &events.Handlers{
		OnSnapshot: w.onSnapshot,
		OnError:    w.onError,
	}
	switch kind {
	case ListingBacktests:
		handlers.OnBacktestAdded = w.onAdded
		handlers.OnBacktestUpdated = w.onUpdated
	default:
		handlers.OnJobAdded = w.onAdded
		handlers.OnJobUpdated = w.onUpdated
		handlers.OnJobRemoved = w.onRemoved
	}

	if err := w.channel.Connect(ctx, handlers); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *ListingWatcher) onSnapshot(raw json.RawMessage) {
	var items []models.Job
	if err := json.Unmarshal(raw, &items); err != nil {
		w.log.WithError(err).Warn("Failed to decode listing snapshot")
		return
	}
	w.commit(func(prev []models.Job) []models.Job { return ApplySnapshot(items) })
	w.mu.Lock()
	w.loading = false
	w.mu.Unlock()
}

func (w *ListingWatcher) onAdded(job models.Job) {
	w.commit(func(prev []models.Job) []models.Job { return ApplyAdded(prev, job) })
}

func (w *ListingWatcher) onUpdated(job models.Job) {
	w.commit(func(prev []models.Job) []models.Job { return ApplyUpdated(prev, job) })
}

func (w *ListingWatcher) onRemoved(ref models.JobRef) {
	w.commit(func(prev []models.Job) []models.Job { return ApplyRemoved(prev, ref.ID) })
}

func (w *ListingWatcher) onError(err *models.StreamError) {
	w.mu.Lock()
	w.err = err
	if err.Code == models.ErrCodeAuthFailed || err.Code == models.ErrCodeConnectionError {
		w.loading = false
	}
	w.mu.Unlock()
	w.log.WithField("code", err.Code).Warn("Listing stream error")
}

func (w *ListingWatcher) commit(mutate func([]models.Job) []models.Job) {
	w.mu.Lock()
	w.items = mutate(w.items)
	items := w.items
	w.mu.Unlock()

	if w.deps.Bus != nil {
		w.deps.Bus.Publish(events.TopicListing, items)
	}
}

// Items returns a copy of the mirrored collection in order.
func (w *ListingWatcher) Items() []models.Job {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.Job, len(w.items))
	copy(out, w.items)
	return out
}

// Loading reports whether the initial snapshot is still pending.
func (w *ListingWatcher) Loading() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loading
}

// Err returns the last stream error, if any.
func (w *ListingWatcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Refresh replaces the collection from REST, for the imperative refresh path.
// The subscription's kind, status filter, and limit carry over so the REST
// view matches the streamed one.
func (w *ListingWatcher) Refresh(ctx context.Context) error {
	var jobs []models.Job
	var err error
	if w.kind == ListingBacktests {
		jobs, err = w.deps.API.ListBacktests(ctx, w.statusFilter, w.limit)
	} else {
		jobs, err = w.deps.API.ListJobs(ctx, w.statusFilter, w.limit)
	}
	if err != nil {
		return err
	}
	w.commit(func([]models.Job) []models.Job { return ApplySnapshot(jobs) })
	w.mu.Lock()
	w.loading = false
	w.mu.Unlock()
	return nil
}

// Close tears down the subscription. Idempotent.
func (w *ListingWatcher) Close() {
	w.closer.Do(func() {
		w.channel.Disconnect()
		close(w.done)
	})
}
