package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dash-sync/internal/events"
	"github.com/dash-sync/internal/sink"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/models"
)

var (
	historyIntervals []string
	historyLimit     int
	historyPoll      bool
	historySink      bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history <resource-id>",
	Short: "Stream historical bars for a resource",
	Long: `Open live channels for the requested intervals and print chunk
arrivals until every interval completes. With --poll the bars are fetched
over REST on an interval instead of streamed. With --sink the bars are also
written to InfluxDB when the sink is configured.

Examples:
  dash-sync history 3f2a91cc -i 1m -i 5m
  dash-sync history 3f2a91cc -i 1h --poll
  dash-sync history 3f2a91cc -i 1m --sink`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringArrayVarP(&historyIntervals, "interval", "i", []string{"1m"}, "Interval to stream (repeatable)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Maximum points per interval")
	historyCmd.Flags().BoolVar(&historyPoll, "poll", false, "Fetch over REST polling instead of streaming")
	historyCmd.Flags().BoolVar(&historySink, "sink", false, "Write bars to InfluxDB")
}

func runHistory(cmd *cobra.Command, args []string) error {
	resourceID := args[0]

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	deps := buildDeps(cfg, log)

	if historySink {
		if !cfg.InfluxDB.Enabled {
			return fmt.Errorf("--sink requires INFLUXDB_ENABLED=true")
		}
		bars, err := sink.NewBarSink(&cfg.InfluxDB, log)
		if err != nil {
			return err
		}
		if err := bars.Attach(deps.Bus); err != nil {
			return err
		}
		defer bars.Close()
	}

	chunks := make(chan models.DataChunk, 64)
	if err := deps.Bus.Subscribe(events.TopicBars, func(chunk models.DataChunk) {
		select {
		case chunks <- chunk:
		default:
		}
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := syncpkg.HistoryOptions{
		ResourceID: resourceID,
		Intervals:  historyIntervals,
		Limit:      historyLimit,
		ChunkSize:  cfg.Stream.ChunkSize,
	}

	var watcher *syncpkg.HistoryWatcher
	if historyPoll {
		watcher = syncpkg.WatchHistoryPolling(ctx, deps, opts, cfg.Poll.Interval)
	} else {
		watcher, err = syncpkg.WatchHistory(ctx, deps, opts)
		if err != nil {
			return fmt.Errorf("failed to watch history: %w", err)
		}
	}
	defer watcher.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-interrupt:
			return nil
		case chunk := <-chunks:
			fmt.Printf("chunk  %-4s  %d point(s)\n", chunk.Interval, len(chunk.Points))
		case <-ticker.C:
			if !watcher.Loading() {
				printHistorySummary(watcher)
				return watcher.Err()
			}
		}
	}
}

func printHistorySummary(watcher *syncpkg.HistoryWatcher) {
	for interval, state := range watcher.Snapshot() {
		fmt.Printf("%-4s  %d point(s)  complete=%v\n", interval, len(state.Points), state.Complete)
	}
}
