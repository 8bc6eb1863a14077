package models

// ConnectionAck is the first event the backend sends on a healthy
// subscription. A subscription that never receives one (or a snapshot)
// within the ack timeout is treated as an authentication failure.
type ConnectionAck struct {
	ClientID string `json:"client_id,omitempty"`
	Resource string `json:"resource,omitempty"`
}

// CompletionNotice is the terminal completed event. Summary is deliberately
// truncated to bound message size and must be superseded by a REST fetch.
type CompletionNotice struct {
	JobID   string          `json:"job_id"`
	Status  JobStatus       `json:"status"`
	Summary *BacktestResult `json:"summary,omitempty"`
}

// JobFailure carries the terminal failed/cancelled outcome of a job. It is
// an application-level outcome, distinct from transport failure.
type JobFailure struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// StreamDone marks the end of a stream (complete / all_complete).
type StreamDone struct {
	JobID       string `json:"job_id,omitempty"`
	TotalPoints int    `json:"total_points,omitempty"`
}

// JobRef identifies a job in removal events.
type JobRef struct {
	ID string `json:"id"`
}

// Stream error codes the client distinguishes.
const (
	ErrCodeAuthFailed      = "auth_failed"
	ErrCodeConnectionError = "connection_error"
	ErrCodeParseError      = "parse_error"
)

// StreamError is the structured payload of a generic error event, also used
// for locally classified transport failures.
type StreamError struct {
	Code               string   `json:"error"`
	Message            string   `json:"message"`
	Interval           string   `json:"interval,omitempty"`
	AvailableIntervals []string `json:"available_intervals,omitempty"`
}

func (e *StreamError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}
