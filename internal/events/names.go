package events

// Named events consumed from the backend's streaming endpoints.
const (
	EventConnection          = "connection"
	EventSnapshot            = "snapshot"
	EventJobAdded            = "job_added"
	EventJobUpdated          = "job_updated"
	EventJobRemoved          = "job_removed"
	EventBacktestAdded       = "backtest_added"
	EventBacktestUpdated     = "backtest_updated"
	EventProgress            = "progress"
	EventTransaction         = "transaction"
	EventCompleted           = "completed"
	EventFailed              = "failed"
	EventCancelled           = "cancelled"
	EventIntervalStart       = "interval_start"
	EventDataChunk           = "data_chunk"
	EventComplete            = "complete"
	EventIntervalComplete    = "interval_complete"
	EventAllComplete         = "all_complete"
	EventStrategiesSnapshot  = "strategies_snapshot"
	EventStrategyStatus      = "strategy_status_update"
	EventStrategyPerformance = "strategy_performance_update"
	EventError               = "error"

	// WebSocket application-level heartbeat.
	EventPing = "ping"
	EventPong = "pong"
)

// IsTerminal reports whether the event ends the stream. Once observed, the
// transport suppresses all further reconnection.
func IsTerminal(event string) bool {
	return event == EventComplete || event == EventAllComplete
}

// IsAck reports whether the event counts as the backend acknowledging the
// subscription. A connection that never sees one within the ack timeout is
// classified as an authentication failure.
func IsAck(event string) bool {
	return event == EventConnection || event == EventSnapshot ||
		event == EventStrategiesSnapshot
}
