package sink

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// NATSPublisher republishes sync updates on NATS subjects so other local
// consumers can follow mirrored state without their own backend
// subscriptions.
type NATSPublisher struct {
	conn   *nats.Conn
	log    *logrus.Entry
	prefix string
	bus    *events.Bus
}

// NewNATSPublisher connects to the NATS server.
func NewNATSPublisher(cfg *config.NATSConfig, log *logrus.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		log:    log.WithField("component", "nats-sink"),
		prefix: cfg.SubjectPrefix,
	}, nil
}

// Attach subscribes the publisher to the sync bus topics.
func (p *NATSPublisher) Attach(bus *events.Bus) error {
	p.bus = bus
	if err := bus.Subscribe(events.TopicJobProgress, p.publishProgress); err != nil {
		return err
	}
	if err := bus.Subscribe(events.TopicJobState, p.publishJobState); err != nil {
		return err
	}
	return bus.Subscribe(events.TopicBars, p.publishChunk)
}

func (p *NATSPublisher) publishProgress(progress models.JobProgress) {
	p.publish(fmt.Sprintf("%s.jobs.%s.progress", p.prefix, progress.JobID), progress)
}

func (p *NATSPublisher) publishJobState(state syncpkg.JobState) {
	p.publish(fmt.Sprintf("%s.jobs.%s.state", p.prefix, state.Job.ID), state)
}

func (p *NATSPublisher) publishChunk(chunk models.DataChunk) {
	p.publish(fmt.Sprintf("%s.bars.%s", p.prefix, chunk.Interval), chunk)
}

func (p *NATSPublisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("Failed to marshal payload")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("Failed to publish")
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.bus != nil {
		p.bus.Unsubscribe(events.TopicJobProgress, p.publishProgress)
		p.bus.Unsubscribe(events.TopicJobState, p.publishJobState)
		p.bus.Unsubscribe(events.TopicBars, p.publishChunk)
	}
	p.conn.Close()
}
