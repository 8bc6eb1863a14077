package events

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/pkg/models"
)

// Handlers holds the typed callback slots a subscription can register. Nil
// slots are skipped, so each watcher wires only the events it cares about.
type Handlers struct {
	OnConnection func(models.ConnectionAck)
	OnSnapshot   func(json.RawMessage) // resource-shaped; decoded by the owning watcher

	OnJobAdded        func(models.Job)
	OnJobUpdated      func(models.Job)
	OnJobRemoved      func(models.JobRef)
	OnBacktestAdded   func(models.Job)
	OnBacktestUpdated func(models.Job)

	OnProgress    func(models.JobProgress)
	OnTransaction func(models.Transaction)
	OnCompleted   func(models.CompletionNotice)
	OnFailed      func(models.JobFailure)
	OnCancelled   func(models.JobFailure)

	OnIntervalStart    func(models.IntervalStart)
	OnDataChunk        func(models.DataChunk)
	OnComplete         func(models.StreamDone)
	OnIntervalComplete func(models.IntervalComplete)
	OnAllComplete      func(models.StreamDone)

	OnStrategiesSnapshot  func([]models.Strategy)
	OnStrategyStatus      func(models.StrategyStatusUpdate)
	OnStrategyPerformance func(models.StrategyPerformanceUpdate)

	OnError func(*models.StreamError)
}

// Demux parses named server events into typed payloads and routes them to
// callback slots, isolating transport concerns from application state.
type Demux struct {
	handlers *Handlers
	log      *logrus.Entry
}

// NewDemux creates a demultiplexer over the given handler set.
func NewDemux(handlers *Handlers, log *logrus.Entry) *Demux {
	return &Demux{handlers: handlers, log: log}
}

// Dispatch routes one named event. Malformed payloads are surfaced through
// the error callback and never panic out of the dispatch path. Unknown
// event names are logged and ignored for forward compatibility.
func (d *Demux) Dispatch(event string, data []byte) {
	switch event {
	case EventConnection:
		route(d, event, data, d.handlers.OnConnection)
	case EventSnapshot:
		if d.handlers.OnSnapshot != nil {
			d.handlers.OnSnapshot(json.RawMessage(data))
		}
	case EventJobAdded:
		route(d, event, data, d.handlers.OnJobAdded)
	case EventJobUpdated:
		route(d, event, data, d.handlers.OnJobUpdated)
	case EventJobRemoved:
		route(d, event, data, d.handlers.OnJobRemoved)
	case EventBacktestAdded:
		route(d, event, data, d.handlers.OnBacktestAdded)
	case EventBacktestUpdated:
		route(d, event, data, d.handlers.OnBacktestUpdated)
	case EventProgress:
		route(d, event, data, d.handlers.OnProgress)
	case EventTransaction:
		route(d, event, data, d.handlers.OnTransaction)
	case EventCompleted:
		route(d, event, data, d.handlers.OnCompleted)
	case EventFailed:
		route(d, event, data, d.handlers.OnFailed)
	case EventCancelled:
		route(d, event, data, d.handlers.OnCancelled)
	case EventIntervalStart:
		route(d, event, data, d.handlers.OnIntervalStart)
	case EventDataChunk:
		route(d, event, data, d.handlers.OnDataChunk)
	case EventComplete:
		route(d, event, data, d.handlers.OnComplete)
	case EventIntervalComplete:
		route(d, event, data, d.handlers.OnIntervalComplete)
	case EventAllComplete:
		route(d, event, data, d.handlers.OnAllComplete)
	case EventStrategiesSnapshot:
		route(d, event, data, d.handlers.OnStrategiesSnapshot)
	case EventStrategyStatus:
		route(d, event, data, d.handlers.OnStrategyStatus)
	case EventStrategyPerformance:
		route(d, event, data, d.handlers.OnStrategyPerformance)
	case EventError:
		var streamErr models.StreamError
		if err := json.Unmarshal(data, &streamErr); err != nil {
			d.parseError(event, err)
			return
		}
		if d.handlers.OnError != nil {
			d.handlers.OnError(&streamErr)
		}
	case EventPing, EventPong:
		// Heartbeats are handled at the transport layer.
	default:
		d.log.WithField("event", event).Debug("Ignoring unknown event")
	}
}

// route unmarshals data into the callback's payload type. A parse failure
// is reported through the error slot instead of reaching the caller.
func route[T any](d *Demux, event string, data []byte, fn func(T)) {
	if fn == nil {
		return
	}
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		d.parseError(event, err)
		return
	}
	fn(payload)
}

func (d *Demux) parseError(event string, err error) {
	d.log.WithError(err).WithField("event", event).Warn("Failed to parse event payload")
	if d.handlers.OnError != nil {
		d.handlers.OnError(&models.StreamError{
			Code:    models.ErrCodeParseError,
			Message: fmt.Sprintf("malformed %s payload: %v", event, err),
		})
	}
}
