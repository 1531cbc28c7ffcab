package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/app"
	"github.com/foxzi/gridline/internal/config"
	"github.com/foxzi/gridline/internal/queue"
)

var (
	jobsListStatus   string
	jobsListLimit    int
	jobsCleanupOlder time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Extraction job commands",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction jobs",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics",
	RunE:  runJobsStats,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished jobs past their retention",
	RunE:  runJobsCleanup,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListStatus, "status", "", "Filter by status (pending, running, deferred, done, failed)")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 50, "Maximum number of jobs to show")

	jobsCleanupCmd.Flags().DurationVar(&jobsCleanupOlder, "older-than", 0, "retention to apply (default jobs.retention)")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatsCmd, jobsDeleteCmd, jobsCleanupCmd)
	rootCmd.AddCommand(jobsCmd)
}

func openJobStorage() (*queue.BoltStorage, error) {
	storage, _, err := openJobStorageWithConfig()
	return storage, err
}

func openJobStorageWithConfig() (*queue.BoltStorage, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	storage, err := queue.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job storage: %w", err)
	}
	return storage, cfg, nil
}

func parseStatus(s string) (queue.JobStatus, error) {
	if s == "" {
		return "", nil
	}
	for _, status := range queue.Statuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	status, err := parseStatus(jobsListStatus)
	if err != nil {
		return err
	}

	storage, err := openJobStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.List(context.Background(), queue.ListFilter{Status: status, Limit: jobsListLimit})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	printJobs(os.Stdout, jobs)
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))
	return nil
}

func printJobs(out io.Writer, jobs []*queue.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tFILE\tISSUE\tCREATED\tRETRIES\tBATCH")
	fmt.Fprintln(w, "--\t------\t----\t-----\t-------\t-------\t-----")

	for _, job := range jobs {
		file := job.FileName
		if len(file) > 40 {
			file = file[:37] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(job.ID),
			job.Status,
			file,
			job.IssueDate,
			job.CreatedAt.Local().Format("2006-01-02 15:04"),
			job.RetryCount,
			truncateID(job.BatchID),
		)
	}
	w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	storage, err := openJobStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	id := args[0]
	job, err := storage.Get(context.Background(), id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n\n", job.ID)
	fmt.Printf("Status:      %s\n", job.Status)
	if job.Stage != "" {
		fmt.Printf("Stage:       %s\n", job.Stage)
	}
	fmt.Printf("File:        %s\n", job.FileName)
	fmt.Printf("Issue date:  %s\n", job.IssueDate)
	fmt.Printf("Created:     %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Retry Count: %d\n", job.RetryCount)

	if job.Status == queue.StatusDeferred && !job.NextRetryAt.IsZero() {
		fmt.Printf("Next Retry:  %s\n", job.NextRetryAt.Format(time.RFC3339))
	}
	if job.BatchID != "" {
		fmt.Printf("Batch:       %s\n", job.BatchID)
	}
	if job.ClientIP != "" {
		fmt.Printf("Client IP:   %s\n", job.ClientIP)
	}
	if job.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", job.LastError)
	}
	if job.TargetList != "" {
		fmt.Printf("\nTarget list:\n%s\n", job.TargetList)
	}

	return nil
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	storage, err := openJobStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	fmt.Fprintln(w, "------\t-----")
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "running\t%d\n", stats.Running)
	fmt.Fprintf(w, "deferred\t%d\n", stats.Deferred)
	fmt.Fprintf(w, "done\t%d\n", stats.Done)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	fmt.Fprintf(w, "total\t%d\n", stats.Total)
	w.Flush()

	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	storage, err := openJobStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()
	id := args[0]

	job, err := storage.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	if err := storage.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	fmt.Printf("Job %s deleted\n", id)
	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	storage, cfg, err := openJobStorageWithConfig()
	if err != nil {
		return err
	}
	defer storage.Close()

	maxAge := jobsCleanupOlder
	if maxAge <= 0 {
		maxAge = cfg.Jobs.Retention
	}
	if maxAge <= 0 {
		return fmt.Errorf("no retention configured (set jobs.retention or --older-than)")
	}

	cleaner := queue.NewCleaner(storage, queue.CleanerConfig{MaxAge: maxAge},
		app.NewLogger(cfg.Logging, os.Stderr).With("component", "cleaner"))
	deleted, err := cleaner.RunOnce(context.Background())
	if err != nil {
		return fmt.Errorf("failed to clean up jobs: %w", err)
	}

	fmt.Printf("Deleted %d finished jobs older than %s\n", deleted, maxAge)
	return nil
}
