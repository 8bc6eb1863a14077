package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/internal/bridge"
	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/identity"
	"github.com/dash-sync/internal/sink"
	"github.com/dash-sync/internal/store"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/models"
)

// App wires the sync layer together: backend client, channel factory,
// watcher registry, optional sinks, and the local bridge server.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// Core components
	apiClient *api.Client
	factory   *transport.Factory
	bus       *events.Bus
	registry  *bridge.Registry
	hub       *bridge.Hub
	server    *bridge.Server
	deviceID  string

	// Optional components, nil when disabled
	store   *store.Store
	natsPub *sink.NATSPublisher
	barSink *sink.BarSink
}

// New creates a new application instance.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())

	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize builds all application components.
func (a *App) Initialize() error {
	a.bus = events.NewBus(a.logger.WithField("component", "bus"))

	// The store comes up before the device identity so the identity can
	// consult it.
	if err := a.initializeStore(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	var idStore identity.Store
	if a.store != nil {
		idStore = a.store
	}
	deviceID, err := identity.DeviceID(a.ctx, &a.cfg.Identity, idStore, a.logger)
	if err != nil {
		return fmt.Errorf("failed to establish device identity: %w", err)
	}
	a.deviceID = deviceID

	a.apiClient = api.NewClient(&a.cfg.Backend, a.logger)
	a.factory = transport.NewFactory(a.cfg, a.logger)

	if err := a.initializeSinks(); err != nil {
		return fmt.Errorf("failed to initialize sinks: %w", err)
	}

	a.registry = bridge.NewRegistry(syncpkg.Deps{
		API:      a.apiClient,
		Channels: a.factory,
		Bus:      a.bus,
		Log:      a.logger,
	})

	hub, err := bridge.NewHub(&a.cfg.Bridge, a.bus, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize hub: %w", err)
	}
	a.hub = hub

	var snapshots bridge.SnapshotStore
	if a.store != nil {
		snapshots = a.store
	}
	a.server = bridge.NewServer(&a.cfg.Bridge, a.registry, a.hub, snapshots, a.logger)

	a.logger.WithFields(logrus.Fields{
		"device_id": a.deviceID,
		"backend":   a.cfg.Backend.BaseURL,
		"mode":      a.cfg.Stream.Mode,
	}).Info("Application initialized")

	return nil
}

func (a *App) initializeStore() error {
	if !a.cfg.Redis.Enabled {
		return nil
	}

	st, err := store.New(&a.cfg.Redis, a.logger)
	if err != nil {
		return err
	}
	a.store = st

	// Mirror streamed state into the snapshot store so a restart can show
	// last-known data before the first snapshot arrives.
	if err := a.bus.Subscribe(events.TopicJobState, func(state syncpkg.JobState) {
		if state.Job.ID == "" {
			return
		}
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := a.store.SaveJob(ctx, &state.Job); err != nil {
			a.logger.WithError(err).Warn("Failed to persist job snapshot")
		}
	}); err != nil {
		return err
	}
	return a.bus.Subscribe(events.TopicListing, func(jobs []models.Job) {
		ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
		defer cancel()
		if err := a.store.SaveListing(ctx, "jobs", jobs); err != nil {
			a.logger.WithError(err).Warn("Failed to persist listing snapshot")
		}
	})
}

func (a *App) initializeSinks() error {
	if a.cfg.NATS.Enabled {
		pub, err := sink.NewNATSPublisher(&a.cfg.NATS, a.logger)
		if err != nil {
			return err
		}
		if err := pub.Attach(a.bus); err != nil {
			return err
		}
		a.natsPub = pub
	}

	if a.cfg.InfluxDB.Enabled {
		bars, err := sink.NewBarSink(&a.cfg.InfluxDB, a.logger)
		if err != nil {
			return err
		}
		if err := bars.Attach(a.bus); err != nil {
			return err
		}
		a.barSink = bars
	}
	return nil
}

// Start brings up the listing subscription and the bridge server. Blocks
// until the server exits.
func (a *App) Start() error {
	if _, err := a.registry.EnsureListing(a.ctx); err != nil {
		// The bridge still serves; the listing retries on demand.
		a.logger.WithError(err).Warn("Initial listing subscription failed")
	}

	return a.server.Start()
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop() {
	a.logger.Info("Shutting down")
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		a.logger.WithError(err).Warn("Bridge server shutdown failed")
	}

	a.hub.Close()
	a.registry.Close()

	if a.barSink != nil {
		a.barSink.Close()
	}
	if a.natsPub != nil {
		a.natsPub.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Store close failed")
		}
	}
	a.logger.Info("Shutdown complete")
}

// DeviceID returns the stable installation identifier.
func (a *App) DeviceID() string {
	return a.deviceID
}
