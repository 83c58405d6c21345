package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/hospital-backoffice/backoffice/internal/app"
	"github.com/hospital-backoffice/backoffice/jobs"
)

// JobsCLI wraps manual management helpers for queued ledger jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the queue's redis.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case "reconcile", jobs.TaskLedgerReconcile:
		return c.client.EnqueueReconcile(ctx, jobs.ReconcilePayload{RequestedBy: "ledgerctl"})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the ledger queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueLedger)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueLedger}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func openJobsCLI() (*JobsCLI, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewJobsCLI(cfg.Redis().Queue())
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and trigger queued jobs",
}

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <job>",
	Short: "Enqueue a job (reconcile)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openJobsCLI()
		if err != nil {
			return err
		}
		defer c.Close()
		info, err := c.Trigger(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return nil
	},
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show default queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openJobsCLI()
		if err != nil {
			return err
		}
		defer c.Close()
		stats, err := c.InspectQueue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsTriggerCmd, jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}
