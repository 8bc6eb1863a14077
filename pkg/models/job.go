package models

import (
	"time"
)

// JobStatus is the lifecycle state of a server-side backtest job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Active reports whether the job is still being worked server-side.
func (s JobStatus) Active() bool {
	return s == JobStatusRunning || s == JobStatusQueued || s == JobStatusPaused
}

// Job mirrors a server-side asynchronous backtest run. Instances are
// transient client-side state, created on subscribe and discarded when the
// owning watcher is closed or superseded by a full REST fetch.
type Job struct {
	ID         string          `json:"id"`
	StrategyID string          `json:"strategy_id,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	Status     JobStatus       `json:"status"`
	Progress   float64         `json:"progress"`
	Current    int64           `json:"current"`
	Total      int64           `json:"total"`
	Result     *BacktestResult `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// JobProgress is the incremental update streamed while a job runs. Later
// values overwrite earlier ones; ordering beyond arrival order on a single
// connection is not guaranteed.
type JobProgress struct {
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status,omitempty"`
	Progress float64   `json:"progress"`
	Current  int64     `json:"current"`
	Total    int64     `json:"total"`
}

// CreateJobRequest is the payload for starting a new backtest.
type CreateJobRequest struct {
	StrategyID string    `json:"strategy_id"`
	Symbol     string    `json:"symbol"`
	Interval   string    `json:"interval"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	Capital    float64   `json:"capital,omitempty"`
}
