package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dash-sync/internal/events"
	syncpkg "github.com/dash-sync/internal/sync"
	"github.com/dash-sync/pkg/models"
)

var (
	jobsKind   string
	jobsStatus string
	jobsLimit  int
	jobsFollow bool
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the live job listing",
	Long: `Subscribe to the job listing stream and print the collection. With
--follow the command keeps printing the listing as it changes; otherwise it
exits after the first snapshot.

Examples:
  dash-sync jobs
  dash-sync jobs --status running --follow
  dash-sync jobs --kind backtests --limit 20`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsCmd.Flags().StringVarP(&jobsKind, "kind", "k", "jobs", "Collection to mirror (jobs, backtests)")
	jobsCmd.Flags().StringVarP(&jobsStatus, "status", "s", "", "Filter by job status")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 0, "Maximum entries to request")
	jobsCmd.Flags().BoolVarP(&jobsFollow, "follow", "f", false, "Keep printing as the listing changes")
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	deps := buildDeps(cfg, log)

	updates := make(chan []models.Job, 8)
	if err := deps.Bus.Subscribe(events.TopicListing, func(jobs []models.Job) {
		select {
		case updates <- jobs:
		default:
		}
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := syncpkg.WatchListing(ctx, deps, syncpkg.ListingKind(jobsKind), jobsStatus, jobsLimit)
	if err != nil {
		return fmt.Errorf("failed to watch listing: %w", err)
	}
	defer watcher.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-interrupt:
			return nil
		case jobs := <-updates:
			printListing(jobs)
			if !jobsFollow {
				return nil
			}
		}
	}
}

func printListing(jobs []models.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTRATEGY\tSYMBOL\tSTATUS\tPROGRESS")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\n",
			j.ID, j.StrategyID, j.Symbol, j.Status, j.Progress)
	}
	w.Flush()
	fmt.Printf("%d job(s)\n", len(jobs))
}
