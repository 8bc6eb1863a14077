package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	backendURL string
	streamMode string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dash-sync",
	Short: "Streaming state sync for the trading dashboard backend",
	Long: `dash-sync mirrors backtest and market state from the trading backend
over live channels (SSE or WebSocket) with automatic reconnection and a
REST-polling fallback, and re-serves it locally over HTTP and WebSocket.

Features:
• Live job, listing, and historical-bar subscriptions
• Snapshot-first protocol with authoritative completion fetch
• Bounded exponential reconnect backoff with auth-failure detection
• Optional Redis snapshot store, NATS fanout, and InfluxDB bar sink`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&backendURL, "backend", "b", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVarP(&streamMode, "mode", "m", "", "Transport mode (sse, websocket)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
}
