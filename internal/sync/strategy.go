package sync

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/models"
)

// StrategyWatcher mirrors the live status and performance view of the
// user's strategies.
type StrategyWatcher struct {
	deps    Deps
	channel transport.Channel

	done   chan struct{}
	closer sync.Once

	mu         sync.RWMutex
	strategies map[string]models.Strategy
	loading    bool
	err        error
}

// WatchStrategies subscribes to the strategy status stream.
func WatchStrategies(ctx context.Context, deps Deps) (*StrategyWatcher, error) {
	w := &StrategyWatcher{
		deps:       deps,
		done:       make(chan struct{}),
		strategies: make(map[string]models.Strategy),
		loading:    true,
	}

	w.channel = deps.Channels.Channel("/api/v1/strategies/stream", nil)

	handlers := &events.Handlers{
		OnStrategiesSnapshot:  w.onSnapshot,
		OnStrategyStatus:      w.onStatus,
		OnStrategyPerformance: w.onPerformance,
		// Some backends deliver the initial strategy list on the generic
		// snapshot event.
		OnSnapshot: func(raw json.RawMessage) {
			var strategies []models.Strategy
			if json.Unmarshal(raw, &strategies) == nil {
				w.onSnapshot(strategies)
			}
		},
		OnError: func(streamErr *models.StreamError) {
			w.mu.Lock()
			w.err = streamErr
			w.loading = false
			w.mu.Unlock()
		},
	}

	if err := w.channel.Connect(ctx, handlers); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *StrategyWatcher) onSnapshot(strategies []models.Strategy) {
	w.mu.Lock()
	w.strategies = make(map[string]models.Strategy, len(strategies))
	for _, s := range strategies {
		w.strategies[s.ID] = s
	}
	w.loading = false
	w.mu.Unlock()
	w.publish()
}

func (w *StrategyWatcher) onStatus(update models.StrategyStatusUpdate) {
	w.mu.Lock()
	if s, ok := w.strategies[update.StrategyID]; ok {
		s.Status = update.Status
		s.UpdatedAt = time.Now()
		w.strategies[update.StrategyID] = s
	}
	w.mu.Unlock()
	w.publish()
}

func (w *StrategyWatcher) onPerformance(update models.StrategyPerformanceUpdate) {
	w.mu.Lock()
	if s, ok := w.strategies[update.StrategyID]; ok {
		s.Performance = update.Performance
		s.UpdatedAt = time.Now()
		w.strategies[update.StrategyID] = s
	}
	w.mu.Unlock()
	w.publish()
}

func (w *StrategyWatcher) publish() {
	if w.deps.Bus != nil {
		w.deps.Bus.Publish(events.TopicStrategies, w.Items())
	}
}

// Items returns the mirrored strategies ordered by id.
func (w *StrategyWatcher) Items() []models.Strategy {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Strategy, 0, len(w.strategies))
	for _, s := range w.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Loading reports whether the initial snapshot is still pending.
func (w *StrategyWatcher) Loading() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loading
}

// Err returns the last stream error, if any.
func (w *StrategyWatcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Refresh replaces the mirrored strategies from REST, for the imperative
// refresh path.
func (w *StrategyWatcher) Refresh(ctx context.Context) error {
	strategies, err := w.deps.API.ListStrategies(ctx)
	if err != nil {
		return err
	}
	w.onSnapshot(strategies)
	return nil
}

// Close tears down the subscription. Idempotent.
func (w *StrategyWatcher) Close() {
	w.closer.Do(func() {
		w.channel.Disconnect()
		close(w.done)
	})
}
