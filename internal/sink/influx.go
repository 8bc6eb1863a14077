package sink

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// BarSink persists streamed OHLCV chunks into InfluxDB. Writes go through
// the client's async write API, so a slow or unavailable Influx never stalls
// the sync path.
type BarSink struct {
	client   influxdb2.Client
	writeAPI influxapi.WriteAPI
	log      *logrus.Entry
	bus      *events.Bus
}

// NewBarSink connects to InfluxDB and verifies it is reachable.
func NewBarSink(cfg *config.InfluxConfig, log *logrus.Logger) (*BarSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach InfluxDB: %w", err)
	}

	sink := &BarSink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		log:      log.WithField("component", "influx-sink"),
	}

	go func() {
		for err := range sink.writeAPI.Errors() {
			sink.log.WithError(err).Warn("Influx write error")
		}
	}()

	return sink, nil
}

// Attach subscribes the sink to streamed bar chunks on the bus.
func (s *BarSink) Attach(bus *events.Bus) error {
	s.bus = bus
	return bus.Subscribe(events.TopicBars, s.WriteChunk)
}

// WriteChunk queues one chunk of points for writing.
func (s *BarSink) WriteChunk(chunk models.DataChunk) {
	for _, point := range chunk.Points {
		p := influxdb2.NewPoint(
			"bars",
			map[string]string{"interval": chunk.Interval},
			map[string]interface{}{
				"open":   point.Open,
				"high":   point.High,
				"low":    point.Low,
				"close":  point.Close,
				"volume": point.Volume,
			},
			time.Unix(point.Time, 0),
		)
		s.writeAPI.WritePoint(p)
	}
}

// Close flushes pending writes and shuts the client down.
func (s *BarSink) Close() {
	if s.bus != nil {
		s.bus.Unsubscribe(events.TopicBars, s.WriteChunk)
	}
	s.writeAPI.Flush()
	s.client.Close()
}
