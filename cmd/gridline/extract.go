package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/gridline/internal/app"
	"github.com/foxzi/gridline/internal/export"
	"github.com/foxzi/gridline/internal/extract"
	"github.com/foxzi/gridline/internal/history"
	"github.com/foxzi/gridline/internal/models"
	"github.com/foxzi/gridline/internal/pdftext"
)

var (
	extractTargets   string
	extractIssueDate string
	extractFormat    string
	extractOutput    string
	extractNoHistory bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Run one extraction from the command line",
	Long: `Extract projects and contacts from a Production Weekly PDF without
starting the server. The batch is saved to history unless --no-history is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractTargets, "targets", "t", "", "target list file (- for stdin)")
	extractCmd.Flags().StringVar(&extractIssueDate, "issue-date", "", "issue date, YYYY-MM-DD or DD/MM/YYYY (default today)")
	extractCmd.Flags().StringVarP(&extractFormat, "format", "f", "tsv", "output format (tsv, json)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "output file (default stdout)")
	extractCmd.Flags().BoolVar(&extractNoHistory, "no-history", false, "do not save the batch to history")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	if err := checkFormat(extractFormat); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging, os.Stderr)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}
	text, err := pdftext.FromBytes(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	date, err := models.ParseIssueDate(extractIssueDate, time.Now())
	if err != nil {
		return err
	}

	targets, err := readTargets(extractTargets, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var saver extract.Saver
	if !extractNoHistory {
		store, err := history.Open(cfg.Storage.Path, cfg.Storage.HistoryLimit)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		defer store.Close()
		saver = store
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ex, closeCache, err := app.NewExtractor(ctx, cfg, saver, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	batch, err := ex.Run(ctx, extract.Input{
		PDFText:    text,
		TargetList: targets,
		IssueDate:  models.FormatIssueDate(date),
		FileName:   args[0],
	}, func(stage string) {
		logger.Info("extraction progress", "stage", stage)
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	logger.Info("extraction complete",
		"batch_id", batch.ID,
		"projects", len(batch.Projects),
		"companies", len(batch.Contacts))

	return writeOutput(extractOutput, func(w io.Writer) error {
		return writeBatch(w, batch, extractFormat)
	})
}

// readTargets returns the target list text from a file, stdin for "-",
// or nothing when no source is given
func readTargets(source string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	switch source {
	case "":
		return "", nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read target list: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func checkFormat(format string) error {
	switch format {
	case "tsv", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q (use tsv or json)", format)
	}
}

func writeBatch(w io.Writer, batch *models.Batch, format string) error {
	if format == "json" {
		return export.WriteJSON(w, batch)
	}
	if err := export.WriteTSV(w, batch.Projects); err != nil {
		return err
	}
	if len(batch.Projects) > 0 {
		_, err := io.WriteString(w, "\n")
		return err
	}
	return nil
}

// writeOutput runs write against the named file, or stdout when path is empty
func writeOutput(path string, write func(w io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
