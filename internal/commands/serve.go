package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/internal/app"
	"github.com/dash-sync/internal/events"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/internal/transport"
	"github.com/dash-sync/pkg/config"
	"github.com/dash-sync/pkg/logger"
)

var (
	servePort int
	serveHost string
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local sync bridge daemon",
	Long: `Start the sync bridge daemon.

The daemon subscribes to the backend's job listing stream, mirrors job and
historical-data state on demand, and re-serves it over a local HTTP API and
a WebSocket fanout endpoint.

Examples:
  dash-sync serve                                  # Defaults from env/.env
  dash-sync serve --backend http://api.local:8000  # Custom backend
  dash-sync serve --mode websocket                 # WebSocket transport
  dash-sync serve --log-level debug                # Debug logging`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Bridge port")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", "", "Bridge host")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("Starting sync bridge daemon")

	application := app.New(cfg, log)
	if err := application.Initialize(); err != nil {
		log.WithError(err).Error("Failed to initialize application")
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-interrupt:
		log.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("Bridge server failed")
			application.Stop()
			return err
		}
	}

	application.Stop()
	return nil
}

// loadConfig loads .env plus the environment, applies flag overrides, and
// builds the logger. Shared by every subcommand.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		// .env is optional
		fmt.Fprintf(os.Stderr, "Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if serveHost != "" {
		cfg.Bridge.Host = serveHost
	}
	if servePort != 0 {
		cfg.Bridge.Port = servePort
	}
	if streamMode != "" {
		cfg.Stream.Mode = streamMode
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

// buildDeps assembles watcher dependencies for the one-shot subcommands.
func buildDeps(cfg *config.Config, log *logrus.Logger) syncpkg.Deps {
	return syncpkg.Deps{
		API:      api.NewClient(&cfg.Backend, log),
		Channels: transport.NewFactory(cfg, log),
		Bus:      events.NewBus(log.WithField("component", "bus")),
		Log:      log,
	}
}
