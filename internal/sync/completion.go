package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dash-sync/internal/api"
	"github.com/dash-sync/pkg/models"
)

// Coordinator bridges the gap between a streamed completion notice, whose
// payload is deliberately truncated to bound message size, and the full
// authoritative result held backend-side.
type Coordinator struct {
	api *api.Client
	log *logrus.Entry
}

// NewCoordinator creates a completion coordinator over the REST client.
func NewCoordinator(client *api.Client, log *logrus.Logger) *Coordinator {
	return &Coordinator{api: client, log: log.WithField("component", "coordinator")}
}

// Resolve fetches the authoritative result for a completed job. When the
// fetch fails or returns an incomplete record, it degrades to the streamed
// summary with a warning; it never produces an unrecoverable error state.
func (c *Coordinator) Resolve(ctx context.Context, jobID string, summary *models.BacktestResult) *models.BacktestResult {
	job, err := c.api.GetJob(ctx, jobID)
	if err != nil {
		c.log.WithError(err).WithField("job_id", jobID).
			Warn("Result fetch failed, keeping streamed summary")
		return summary
	}
	if job.Status == models.JobStatusCompleted && job.Result != nil {
		return job.Result
	}

	c.log.WithFields(logrus.Fields{
		"job_id": jobID,
		"status": job.Status,
	}).Warn("Fetched job has no usable result, keeping streamed summary")
	return summary
}

// PollIntervals is the REST-polling mode used while a job is still running
// and live multi-interval streaming is unsupported server-side. Each tick it
// fetches every interval and hands the full point list to apply, replacing
// (not merging) the previous list, until the job leaves the active set.
func (c *Coordinator) PollIntervals(
	ctx context.Context,
	resourceID string,
	intervals []string,
	every time.Duration,
	limit int,
	apply func(interval string, points []models.HistoricalDataPoint),
) error {
	poll := func() (done bool) {
		job, err := c.api.GetJob(ctx, resourceID)
		if err != nil {
			// Retryable for still-running jobs.
			c.log.WithError(err).Debug("Job status poll failed")
			return false
		}

		for _, interval := range intervals {
			resp, err := c.api.GetHistoricalData(ctx, resourceID, interval, limit, "")
			if err != nil {
				c.log.WithError(err).WithField("interval", interval).
					Debug("Interval poll failed")
				continue
			}
			apply(interval, resp.Points)
		}

		return !job.Status.Active()
	}

	if poll() {
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if poll() {
				return nil
			}
		}
	}
}
