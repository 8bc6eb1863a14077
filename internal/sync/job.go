package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/models"
)

// JobPhase is the watcher-side lifecycle of one job subscription.
type JobPhase string

const (
	PhaseIdle       JobPhase = "idle"
	PhaseConnecting JobPhase = "connecting"
	PhaseStreaming  JobPhase = "streaming"
	PhaseCompleted  JobPhase = "completed"
	PhaseFailed     JobPhase = "failed"
	PhaseCancelled  JobPhase = "cancelled"
)

// JobState is the read-only snapshot a JobWatcher exposes.
type JobState struct {
	Phase        JobPhase
	Job          models.Job
	Result       *models.BacktestResult
	Transactions []models.Transaction
	Loading      bool
	Completed    bool
	Err          error
}

// Typed reducer events. All state transitions flow through reduceJob so they
// stay pure and independently testable.
type jobEvent interface{ isJobEvent() }

type evAcked struct{}
type evProgress struct{ p models.JobProgress }
type evTransaction struct{ tx models.Transaction }
type evCompleted struct{ notice models.CompletionNotice }
type evResolved struct{ result *models.BacktestResult }
type evFailed struct{ f models.JobFailure }
type evCancelled struct{ f models.JobFailure }
type evStreamError struct{ err *models.StreamError }

func (evAcked) isJobEvent()       {}
func (evProgress) isJobEvent()    {}
func (evTransaction) isJobEvent() {}
func (evCompleted) isJobEvent()   {}
func (evResolved) isJobEvent()    {}
func (evFailed) isJobEvent()      {}
func (evCancelled) isJobEvent()   {}
func (evStreamError) isJobEvent() {}

// reduceJob applies one event to the previous state. Later progress values
// overwrite earlier ones; no ordering beyond arrival order is enforced.
func reduceJob(s JobState, ev jobEvent) JobState {
	switch ev := ev.(type) {
	case evAcked:
		if s.Phase == PhaseIdle || s.Phase == PhaseConnecting {
			s.Phase = PhaseStreaming
		}
	case evProgress:
		s.Phase = PhaseStreaming
		if ev.p.Status != "" {
			s.Job.Status = ev.p.Status
		}
		s.Job.Progress = ev.p.Progress
		s.Job.Current = ev.p.Current
		s.Job.Total = ev.p.Total
	case evTransaction:
		s.Transactions = append(s.Transactions[:len(s.Transactions):len(s.Transactions)], ev.tx)
	case evCompleted:
		// Not final yet: the summary is authoritative only after Resolve.
		s.Job.Status = models.JobStatusCompleted
		s.Job.Progress = 100
	case evResolved:
		s.Phase = PhaseCompleted
		s.Result = ev.result
		s.Completed = true
		s.Loading = false
	case evFailed:
		s.Phase = PhaseFailed
		s.Job.Status = models.JobStatusFailed
		s.Job.Error = ev.f.Message
		s.Err = errors.New(ev.f.Message)
		s.Loading = false
	case evCancelled:
		s.Phase = PhaseCancelled
		s.Job.Status = models.JobStatusCancelled
		s.Job.Error = ev.f.Message
		s.Loading = false
	case evStreamError:
		s.Err = ev.err
		if ev.err.Code == models.ErrCodeAuthFailed || ev.err.Code == models.ErrCodeConnectionError {
			s.Loading = false
		}
	}
	return s
}

// JobWatcher owns the live view of one backtest job: it wires a channel to
// the reducer, deduplicates redelivered transactions, and resolves the
// authoritative result through the coordinator on completion.
type JobWatcher struct {
	jobID    string
	deps     Deps
	channel  transport.Channel
	resolver *Coordinator
	log      *logrus.Entry

	events chan jobEvent
	done   chan struct{}
	closer sync.Once

	mu    sync.RWMutex
	state JobState
	seen  map[string]struct{}
}

// WatchJob subscribes to one job's progress stream.
func WatchJob(ctx context.Context, deps Deps, jobID string) (*JobWatcher, error) {
	w := &JobWatcher{
		jobID:    jobID,
		deps:     deps,
		resolver: NewCoordinator(deps.API, deps.Log),
		log:      deps.Log.WithFields(logrus.Fields{"component": "job-watcher", "job_id": jobID}),
		events:   make(chan jobEvent, 256),
		done:     make(chan struct{}),
		seen:     make(map[string]struct{}),
		state: JobState{
			Phase:   PhaseIdle,
			Job:     models.Job{ID: jobID},
			Loading: true,
		},
	}

	w.channel = deps.Channels.Channel("/api/v1/jobs/"+jobID+"/stream", nil)

	handlers := &events.Handlers{
		OnConnection:  func(models.ConnectionAck) { w.send(evAcked{}) },
		OnProgress:    func(p models.JobProgress) { w.send(evProgress{p}) },
		OnTransaction: func(tx models.Transaction) { w.send(evTransaction{tx}) },
		OnCompleted:   func(n models.CompletionNotice) { w.send(evCompleted{n}) },
		OnFailed:      func(f models.JobFailure) { w.send(evFailed{f}) },
		OnCancelled:   func(f models.JobFailure) { w.send(evCancelled{f}) },
		OnError:       func(err *models.StreamError) { w.send(evStreamError{err}) },
	}

	go w.run(ctx)

	w.mu.Lock()
	w.state.Phase = PhaseConnecting
	w.mu.Unlock()
	if err := w.channel.Connect(ctx, handlers); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// send enqueues an event without ever blocking the transport callback.
func (w *JobWatcher) send(ev jobEvent) {
	select {
	case w.events <- ev:
	case <-w.done:
	default:
		w.log.Warn("Dropping event, watcher queue full")
	}
}

// run is the single goroutine applying events to state.
func (w *JobWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev := <-w.events:
			w.apply(ctx, ev)
		}
	}
}

func (w *JobWatcher) apply(ctx context.Context, ev jobEvent) {
	if tx, ok := ev.(evTransaction); ok {
		key := tx.tx.DedupKey()
		if _, dup := w.seen[key]; dup {
			return
		}
		w.seen[key] = struct{}{}
	}

	w.mu.Lock()
	w.state = reduceJob(w.state, ev)
	w.mu.Unlock()

	switch ev := ev.(type) {
	case evCompleted:
		// The embedded summary is not trusted as final; fetch the
		// authoritative result and only then mark completed.
		result := w.resolver.Resolve(ctx, w.jobID, ev.notice.Summary)
		w.mu.Lock()
		w.state = reduceJob(w.state, evResolved{result})
		w.mu.Unlock()
		w.channel.Disconnect()
		w.publish()
	case evFailed:
		w.channel.Disconnect()
		w.publish()
	case evCancelled:
		w.channel.Disconnect()
		w.publish()
	case evProgress:
		if w.deps.Bus != nil {
			w.deps.Bus.Publish(events.TopicJobProgress, ev.p)
		}
	}
}

func (w *JobWatcher) publish() {
	if w.deps.Bus == nil {
		return
	}
	w.deps.Bus.Publish(events.TopicJobState, w.Snapshot())
}

// Snapshot returns a copy of the current state.
func (w *JobWatcher) Snapshot() JobState {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := w.state
	if len(s.Transactions) > 0 {
		txs := make([]models.Transaction, len(s.Transactions))
		copy(txs, s.Transactions)
		s.Transactions = txs
	}
	return s
}

// Refresh re-fetches the job over REST and replaces the mirrored record.
func (w *JobWatcher) Refresh(ctx context.Context) error {
	job, err := w.deps.API.GetJob(ctx, w.jobID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.state.Job = *job
	if job.Result != nil {
		w.state.Result = job.Result
	}
	if job.Status.Terminal() {
		w.state.Loading = false
		w.state.Completed = job.Status == models.JobStatusCompleted
	}
	w.mu.Unlock()
	return nil
}

// Close tears down the subscription. Idempotent.
func (w *JobWatcher) Close() {
	w.closer.Do(func() {
		w.channel.Disconnect()
		close(w.done)
	})
}
