package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dash-sync/internal/events"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/models"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow one job's live stream until it finishes",
	Long: `Subscribe to a single job's live channel and print progress,
transactions, and the final result. Exits when the job reaches a terminal
state or on interrupt.

Examples:
  dash-sync watch 3f2a91cc
  dash-sync watch 3f2a91cc --mode websocket`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	deps := buildDeps(cfg, log)

	terminal := make(chan syncpkg.JobState, 1)
	if err := deps.Bus.Subscribe(events.TopicJobProgress, func(p models.JobProgress) {
		fmt.Printf("progress  %5.1f%%  %d/%d\n", p.Progress, p.Current, p.Total)
	}); err != nil {
		return err
	}
	if err := deps.Bus.Subscribe(events.TopicJobState, func(state syncpkg.JobState) {
		switch state.Phase {
		case syncpkg.PhaseCompleted, syncpkg.PhaseFailed, syncpkg.PhaseCancelled:
			select {
			case terminal <- state:
			default:
			}
		}
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := syncpkg.WatchJob(ctx, deps, jobID)
	if err != nil {
		return fmt.Errorf("failed to watch job %s: %w", jobID, err)
	}
	defer watcher.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
		fmt.Println("interrupted")
		return nil
	case state := <-terminal:
		return printFinalState(jobID, state)
	}
}

func printFinalState(jobID string, state syncpkg.JobState) error {
	switch state.Phase {
	case syncpkg.PhaseCompleted:
		fmt.Printf("job %s completed\n", jobID)
		if r := state.Result; r != nil {
			fmt.Printf("  trades: %d  win rate: %.2f%%  partial: %v\n",
				r.TotalTrades, r.WinRate, r.Partial)
		}
		fmt.Printf("  transactions: %d\n", len(state.Transactions))
		return nil
	case syncpkg.PhaseCancelled:
		fmt.Printf("job %s cancelled\n", jobID)
		return nil
	default:
		if state.Err != nil {
			return fmt.Errorf("job %s failed: %w", jobID, state.Err)
		}
		return fmt.Errorf("job %s failed", jobID)
	}
}
