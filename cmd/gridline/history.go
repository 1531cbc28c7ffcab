package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/history"
	"github.com/foxzi/gridline/internal/models"
)

var (
	historyExportFormat string
	historyExportOutput string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Saved batch commands",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved batches, newest first",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <batch_id>",
	Short: "Show the projects of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <batch_id>",
	Short: "Export a batch as TSV or JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <batch_id>",
	Short: "Delete a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every saved batch",
	RunE:  runHistoryClear,
}

func init() {
	historyExportCmd.Flags().StringVarP(&historyExportFormat, "format", "f", "tsv", "output format (tsv, json)")
	historyExportCmd.Flags().StringVarP(&historyExportOutput, "output", "o", "", "output file (default stdout)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyExportCmd, historyDeleteCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := history.Open(cfg.Storage.Path, cfg.Storage.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.Summaries(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	if len(summaries) == 0 {
		fmt.Println("History is empty")
		return nil
	}

	printSummaries(os.Stdout, summaries)
	fmt.Printf("\nTotal: %d of %d kept\n", len(summaries), store.Limit())
	return nil
}

func printSummaries(out io.Writer, summaries []models.BatchSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAVED\tISSUE\tFILE\tPROJECTS\tCONTACTS\tTARGETS")
	fmt.Fprintln(w, "--\t-----\t-----\t----\t--------\t--------\t-------")

	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			truncateID(s.ID),
			s.Timestamp.Local().Format("2006-01-02 15:04"),
			s.IssueDate,
			s.FileName,
			s.ProjectCount,
			s.ContactCount,
			s.TargetCount,
		)
	}
	w.Flush()
}

// findBatch accepts a full id or a unique prefix as printed by list
func findBatch(ctx context.Context, store *history.Store, id string) (*models.Batch, error) {
	batch, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch != nil {
		return batch, nil
	}

	summaries, err := store.Summaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	var match string
	for _, s := range summaries {
		if strings.HasPrefix(s.ID, id) {
			if match != "" {
				return nil, fmt.Errorf("batch id %q is ambiguous", id)
			}
			match = s.ID
		}
	}
	if match == "" {
		return nil, fmt.Errorf("batch not found: %s", id)
	}
	return store.Get(ctx, match)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	batch, err := findBatch(context.Background(), store, args[0])
	if err != nil {
		return err
	}

	printBatch(os.Stdout, batch)
	return nil
}

func printBatch(out io.Writer, batch *models.Batch) {
	fmt.Fprintf(out, "Batch: %s\n\n", batch.ID)
	fmt.Fprintf(out, "Saved:      %s\n", batch.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(out, "Issue date: %s\n", batch.IssueDate)
	if batch.FileName != "" {
		fmt.Fprintf(out, "File:       %s\n", batch.FileName)
	}
	if batch.Generator != "" {
		fmt.Fprintf(out, "Model:      %s\n", batch.Generator)
	}
	fmt.Fprintf(out, "Companies:  %d\n\n", len(batch.Contacts))

	if len(batch.Projects) == 0 {
		fmt.Fprintln(out, "No projects")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tAGENTS\tTYPE\tSTATUS\tSTART\tCOMPANY")
	fmt.Fprintln(w, "-------\t------\t----\t------\t-----\t-------")
	for _, p := range batch.Projects {
		agents := p.PrimaryAgent
		if p.SecondaryAgents != "" {
			agents += "; " + p.SecondaryAgents
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ProjectName, agents, p.Type, p.Status, p.StartDate, p.PrimaryCompany)
	}
	w.Flush()
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyExportFormat); err != nil {
		return err
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	batch, err := findBatch(context.Background(), store, args[0])
	if err != nil {
		return err
	}

	return writeOutput(historyExportOutput, func(w io.Writer) error {
		return writeBatch(w, batch, historyExportFormat)
	})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	batch, err := findBatch(ctx, store, args[0])
	if err != nil {
		return err
	}

	if err := store.Delete(ctx, batch.ID); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}

	fmt.Printf("Batch %s deleted\n", batch.ID)
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Clear(context.Background()); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	fmt.Println("History cleared")
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
