package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mentor/internal/indexer"
	"mentor/internal/logging"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the index, or verify the persisted one",
		Args:  cobra.NoArgs,
		RunE:  runIndex,
	}
	cmd.Flags().Bool("rebuild", false, "discard the persisted index and build from source")
	return cmd
}

func runIndex(cmd *cobra.Command, _ []string) error {
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
	if rebuild, _ := cmd.Flags().GetBool("rebuild"); rebuild {
		if err := app.Backend.Remove(cfg.Index.Path); err != nil {
			return fmt.Errorf("removing index: %w", err)
		}
	}
	if err := app.BuildIndex(cmd.Context()); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	return printReport(cmd.OutOrStdout(), app.Builder.Report())
}

func printReport(w io.Writer, rep indexer.Report) error {
	mode := "built"
	switch {
	case rep.Warm:
		mode = "loaded"
	case rep.Rebuilt:
		mode = "rebuilt"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Index %s in %s\n", mode, rep.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  backend:    %s\n", rep.Backend)
	fmt.Fprintf(&b, "  location:   %s\n", rep.Location)
	fmt.Fprintf(&b, "  model:      %s (dimension %d)\n", rep.Model, rep.Dimension)
	fmt.Fprintf(&b, "  documents:  %d\n", rep.Documents)
	if !rep.Warm {
		fmt.Fprintf(&b, "  files:      %d\n", len(rep.Files))
		fmt.Fprintf(&b, "  bad rows:   %d\n", rep.SkippedRows)
		for _, s := range rep.Skipped {
			fmt.Fprintf(&b, "  skipped:    %s (%s)\n", s.File, s.Reason)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
