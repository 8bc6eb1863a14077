package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	syncpkg "github.com/dash-sync/internal/sync"
)

// Registry owns the active watchers the bridge serves snapshots from. Each
// watcher keeps its isolated state slice; the registry only indexes them.
type Registry struct {
	deps syncpkg.Deps
	log  *logrus.Entry

	mu         sync.RWMutex
	jobs       map[string]*syncpkg.JobWatcher
	listing    *syncpkg.ListingWatcher
	history    map[string]*syncpkg.HistoryWatcher
	strategies *syncpkg.StrategyWatcher
}

// NewRegistry creates an empty watcher registry.
func NewRegistry(deps syncpkg.Deps) *Registry {
	return &Registry{
		deps:    deps,
		log:     deps.Log.WithField("component", "registry"),
		jobs:    make(map[string]*syncpkg.JobWatcher),
		history: make(map[string]*syncpkg.HistoryWatcher),
	}
}

// WatchJob returns the existing watcher for a job or subscribes a new one.
func (r *Registry) WatchJob(ctx context.Context, jobID string) (*syncpkg.JobWatcher, error) {
	r.mu.RLock()
	watcher, ok := r.jobs[jobID]
	r.mu.RUnlock()
	if ok {
		return watcher, nil
	}

	watcher, err := syncpkg.WatchJob(ctx, r.deps, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to watch job %s: %w", jobID, err)
	}

	// Re-check under the write lock: a concurrent request may have
	// registered its own watcher while ours was connecting.
	r.mu.Lock()
	if existing, ok := r.jobs[jobID]; ok {
		r.mu.Unlock()
		watcher.Close()
		return existing, nil
	}
	r.jobs[jobID] = watcher
	r.mu.Unlock()
	return watcher, nil
}

// Job returns the watcher for a job, nil when none is active.
func (r *Registry) Job(jobID string) *syncpkg.JobWatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[jobID]
}

// EnsureListing subscribes the jobs listing watcher once.
func (r *Registry) EnsureListing(ctx context.Context) (*syncpkg.ListingWatcher, error) {
	r.mu.RLock()
	listing := r.listing
	r.mu.RUnlock()
	if listing != nil {
		return listing, nil
	}

	listing, err := syncpkg.WatchListing(ctx, r.deps, syncpkg.ListingJobs, "", 0)
	if err != nil {
		return nil, fmt.Errorf("failed to watch listing: %w", err)
	}

	r.mu.Lock()
	if r.listing != nil {
		existing := r.listing
		r.mu.Unlock()
		listing.Close()
		return existing, nil
	}
	r.listing = listing
	r.mu.Unlock()
	return listing, nil
}

// Listing returns the listing watcher, nil when inactive.
func (r *Registry) Listing() *syncpkg.ListingWatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listing
}

// WatchHistory returns the existing history watcher for a subscription key
// or opens a new one.
func (r *Registry) WatchHistory(ctx context.Context, opts syncpkg.HistoryOptions) (*syncpkg.HistoryWatcher, error) {
	key := opts.Key()

	r.mu.RLock()
	watcher, ok := r.history[key]
	r.mu.RUnlock()
	if ok {
		return watcher, nil
	}

	watcher, err := syncpkg.WatchHistory(ctx, r.deps, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch history %s: %w", key, err)
	}

	r.mu.Lock()
	if existing, ok := r.history[key]; ok {
		r.mu.Unlock()
		watcher.Close()
		return existing, nil
	}
	r.history[key] = watcher
	r.mu.Unlock()
	return watcher, nil
}

// EnsureStrategies subscribes the strategy watcher once.
func (r *Registry) EnsureStrategies(ctx context.Context) (*syncpkg.StrategyWatcher, error) {
	r.mu.RLock()
	strategies := r.strategies
	r.mu.RUnlock()
	if strategies != nil {
		return strategies, nil
	}

	strategies, err := syncpkg.WatchStrategies(ctx, r.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to watch strategies: %w", err)
	}

	r.mu.Lock()
	if r.strategies != nil {
		existing := r.strategies
		r.mu.Unlock()
		strategies.Close()
		return existing, nil
	}
	r.strategies = strategies
	r.mu.Unlock()
	return strategies, nil
}

// History returns the history watcher for a key, nil when inactive.
func (r *Registry) History(key string) *syncpkg.HistoryWatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history[key]
}

// Stats summarizes the active subscriptions.
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]interface{}{
		"jobs":       len(r.jobs),
		"history":    len(r.history),
		"listing":    r.listing != nil,
		"strategies": r.strategies != nil,
	}
}

// Close tears every watcher down.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, watcher := range r.jobs {
		watcher.Close()
		delete(r.jobs, id)
	}
	for key, watcher := range r.history {
		watcher.Close()
		delete(r.history, key)
	}
	if r.listing != nil {
		r.listing.Close()
		r.listing = nil
	}
	if r.strategies != nil {
		r.strategies.Close()
		r.strategies = nil
	}
}
