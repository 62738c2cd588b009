package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mentor/internal/logging"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <question>",
		Short: "Show the documents retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	defer func() { _ = logger.Sync() }()

	app, err := Wire(cfg, logger)
	if err != nil {
		return err
	}
	if err := app.BuildIndex(cmd.Context()); err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	hits, err := app.Mentor.Search(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(hits) == 0 {
		_, err = fmt.Fprintln(out, "No results.")
		return err
	}
	for i, h := range hits {
		md := h.Document.Metadata
		if _, err := fmt.Fprintf(out, "%d. [%.3f] %s row %d\n   %s\n", i+1, h.Score, md.SourceFile, md.RowIndex,
			h.Document.Text); err != nil {
			return err
		}
	}
	return nil
}
