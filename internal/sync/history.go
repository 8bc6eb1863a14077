package sync

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/models"
)

// IntervalState is the per-interval accumulator exposed in snapshots.
type IntervalState struct {
	Interval string
	Meta     *models.IntervalStart
	Points   []models.HistoricalDataPoint
	Progress float64
	Loading  bool
	Complete bool
	Err      error
}

// intervalSlot pairs the exposed state with its dedup index.
type intervalSlot struct {
	state IntervalState
	seen  map[int64]struct{}
}

// MergePoints appends only points whose timestamps are not already present,
// preserving arrival order. Redelivering an identical chunk is a no-op.
func MergePoints(existing []models.HistoricalDataPoint, seen map[int64]struct{}, incoming []models.HistoricalDataPoint) []models.HistoricalDataPoint {
	for _, point := range incoming {
		if _, dup := seen[point.Time]; dup {
			continue
		}
		seen[point.Time] = struct{}{}
		existing = append(existing, point)
	}
	return existing
}

// HistoryWatcher streams historical bars for one resource across several
// intervals at once: one independent channel per interval, all opened
// concurrently. A failure on one interval never halts its siblings.
type HistoryWatcher struct {
	deps Deps
	log  *logrus.Entry

	done   chan struct{}
	closer sync.Once

	mu       sync.RWMutex
	opts     HistoryOptions
	key      string
	slots    map[string]*intervalSlot
	channels map[string]transport.Channel
	err      error
	pollMode bool
	pollStop context.CancelFunc
}

// WatchHistory opens one live channel per interval.
func WatchHistory(ctx context.Context, deps Deps, opts HistoryOptions) (*HistoryWatcher, error) {
	w := newHistoryWatcher(deps, opts)
	if err := w.openChannels(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// WatchHistoryPolling is the REST-polling variant used while the job backing
// the resource is still running and live multi-interval streaming is
// unsupported server-side. Each successful poll replaces an interval's point
// list wholesale.
func WatchHistoryPolling(ctx context.Context, deps Deps, opts HistoryOptions, every time.Duration) *HistoryWatcher {
	w := newHistoryWatcher(deps, opts)
	w.pollMode = true

	pollCtx, cancel := context.WithCancel(ctx)
	w.pollStop = cancel

	coordinator := NewCoordinator(deps.API, deps.Log)
	go func() {
		err := coordinator.PollIntervals(pollCtx, opts.ResourceID, opts.Intervals, every, opts.Limit,
			func(interval string, points []models.HistoricalDataPoint) {
				w.replacePoints(interval, points)
			})
		if err != nil && pollCtx.Err() == nil {
			w.log.WithError(err).Warn("History polling stopped")
		}
		w.finishAll()
	}()

	return w
}

func newHistoryWatcher(deps Deps, opts HistoryOptions) *HistoryWatcher {
	w := &HistoryWatcher{
		deps:     deps,
		log:      deps.Log.WithFields(logrus.Fields{"component": "history-watcher", "resource": opts.ResourceID}),
		done:     make(chan struct{}),
		opts:     opts,
		key:      opts.Key(),
		slots:    make(map[string]*intervalSlot),
		channels: make(map[string]transport.Channel),
	}
	for _, interval := range opts.Intervals {
		w.slots[interval] = &intervalSlot{
			state: IntervalState{Interval: interval, Loading: true},
			seen:  make(map[int64]struct{}),
		}
	}
	return w
}

func (w *HistoryWatcher) openChannels(ctx context.Context) error {
	single := len(w.opts.Intervals) == 1

	for _, interval := range w.opts.Intervals {
		interval := interval

		params := url.Values{}
		params.Set("interval", interval)
		if w.opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(w.opts.Limit))
		}
		if w.opts.ChunkSize > 0 {
			params.Set("chunk_size", strconv.Itoa(w.opts.ChunkSize))
		}

		channel := w.deps.Channels.Channel("/api/v1/data/"+w.opts.ResourceID+"/stream", params)

		handlers := &events.Handlers{
			OnIntervalStart: func(start models.IntervalStart) {
				w.withSlot(interval, func(slot *intervalSlot) {
					slot.state.Meta = &start
					slot.state.Loading = true
				})
			},
			OnDataChunk: func(chunk models.DataChunk) {
				w.appendChunk(interval, chunk)
			},
			OnComplete: func(models.StreamDone) {
				w.finishInterval(interval)
			},
			OnIntervalComplete: func(models.IntervalComplete) {
				w.finishInterval(interval)
			},
			OnAllComplete: func(models.StreamDone) {
				w.finishInterval(interval)
			},
			OnError: func(streamErr *models.StreamError) {
				w.intervalError(interval, single, streamErr)
			},
		}

		if err := channel.Connect(ctx, handlers); err != nil {
			return err
		}
		w.mu.Lock()
		w.channels[interval] = channel
		w.mu.Unlock()
	}
	return nil
}

func (w *HistoryWatcher) withSlot(interval string, fn func(*intervalSlot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot, ok := w.slots[interval]; ok {
		fn(slot)
	}
}

func (w *HistoryWatcher) appendChunk(interval string, chunk models.DataChunk) {
	w.withSlot(interval, func(slot *intervalSlot) {
		slot.state.Points = MergePoints(slot.state.Points, slot.seen, chunk.Points)
		if chunk.Progress > 0 {
			slot.state.Progress = chunk.Progress
		}
	})
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(events.TopicBars, chunk)
	}
}

func (w *HistoryWatcher) replacePoints(interval string, points []models.HistoricalDataPoint) {
	w.withSlot(interval, func(slot *intervalSlot) {
		slot.seen = make(map[int64]struct{}, len(points))
		for _, p := range points {
			slot.seen[p.Time] = struct{}{}
		}
		slot.state.Points = points
		slot.state.Loading = false
	})
}

func (w *HistoryWatcher) finishInterval(interval string) {
	w.withSlot(interval, func(slot *intervalSlot) {
		slot.state.Loading = false
		slot.state.Complete = true
		slot.state.Progress = 100
	})
}

func (w *HistoryWatcher) finishAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, slot := range w.slots {
		slot.state.Loading = false
		slot.state.Complete = true
	}
}

// intervalError records an error against one interval. Sibling intervals
// keep accumulating; the error escalates to watcher level only for a
// connection error on a single-interval subscription.
func (w *HistoryWatcher) intervalError(interval string, single bool, streamErr *models.StreamError) {
	w.withSlot(interval, func(slot *intervalSlot) {
		slot.state.Err = streamErr
		slot.state.Loading = false
	})

	if single && streamErr.Code == models.ErrCodeConnectionError {
		w.mu.Lock()
		w.err = streamErr
		w.mu.Unlock()
	}
	w.log.WithFields(logrus.Fields{
		"interval": interval,
		"code":     streamErr.Code,
	}).Warn("Interval stream error")
}

// Loading is the logical OR of all per-interval loading flags.
func (w *HistoryWatcher) Loading() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, slot := range w.slots {
		if slot.state.Loading {
			return true
		}
	}
	return false
}

// Err returns the watcher-level error, if any. Per-interval errors stay in
// their interval's state.
func (w *HistoryWatcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.err == nil {
		return nil
	}
	return w.err
}

// Snapshot returns copies of every interval's state.
func (w *HistoryWatcher) Snapshot() map[string]IntervalState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]IntervalState, len(w.slots))
	for interval, slot := range w.slots {
		state := slot.state
		if len(state.Points) > 0 {
			points := make([]models.HistoricalDataPoint, len(state.Points))
			copy(points, state.Points)
			state.Points = points
		}
		out[interval] = state
	}
	return out
}

// Refresh replaces every interval's points from REST, for the imperative
// refresh path. Intervals refresh independently; the first failure is
// returned after the remaining intervals have been attempted.
func (w *HistoryWatcher) Refresh(ctx context.Context) error {
	w.mu.RLock()
	opts := w.opts
	w.mu.RUnlock()

	var firstErr error
	for _, interval := range opts.Intervals {
		resp, err := w.deps.API.GetHistoricalData(ctx, opts.ResourceID, interval, opts.Limit, "")
		if err != nil {
			w.withSlot(interval, func(slot *intervalSlot) {
				slot.state.Err = err
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.replacePoints(interval, resp.Points)
	}
	return firstErr
}

// Reconfigure applies a new subscription configuration. When the normalized
// key is unchanged the live connections are left untouched; only a real
// change triggers teardown and reconnect.
func (w *HistoryWatcher) Reconfigure(ctx context.Context, opts HistoryOptions) error {
	if opts.Key() == w.key {
		w.log.Debug("Configuration unchanged, keeping live connections")
		return nil
	}

	w.teardownChannels()

	w.mu.Lock()
	w.opts = opts
	w.key = opts.Key()
	w.err = nil
	w.slots = make(map[string]*intervalSlot)
	for _, interval := range opts.Intervals {
		w.slots[interval] = &intervalSlot{
			state: IntervalState{Interval: interval, Loading: true},
			seen:  make(map[int64]struct{}),
		}
	}
	w.mu.Unlock()

	if w.pollMode {
		return nil
	}
	return w.openChannels(ctx)
}

func (w *HistoryWatcher) teardownChannels() {
	w.mu.Lock()
	channels := w.channels
	w.channels = make(map[string]transport.Channel)
	w.mu.Unlock()

	for _, channel := range channels {
		channel.Disconnect()
	}
}

// Close tears down every owned connection. Idempotent.
func (w *HistoryWatcher) Close() {
	w.closer.Do(func() {
		if w.pollStop != nil {
			w.pollStop()
		}
		w.teardownChannels()
		close(w.done)
	})
}
