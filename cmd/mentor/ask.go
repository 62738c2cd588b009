package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"mentor/internal/logging"
	"mentor/internal/server"
	"mentor/internal/tui"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask questions in the terminal",
		Long: "Build or load the index, then answer the given question and exit. " +
			"Without a question, start an interactive session; enter q to quit.",
		RunE: runAsk,
	}
	cmd.Flags().String("log-file", "mentor.log", "where logs go during an interactive session")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	question := strings.TrimSpace(strings.Join(args, " "))

	// The terminal belongs to the TUI in interactive mode.
	var outputs []string
	if question == "" {
		logFile, _ := cmd.Flags().GetString("log-file")
		outputs = []string{logFile}
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPaths: outputs})
	defer func() { _ = logger.Sync() }()

	app, err := Wire(cfg, logger)
	if err != nil {
		return err
	}
	if err := app.BuildIndex(cmd.Context()); err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	if question != "" {
		ans, err := app.Mentor.Ask(cmd.Context(), question)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), server.Greeting+ans.Text)
		return err
	}

	rep := app.Builder.Report()
	summary := fmt.Sprintf("%d documents from %d files, %s", rep.Documents, len(rep.Files), rep.Model)
	if rep.Warm {
		summary = fmt.Sprintf("%d documents, %s", rep.Documents, rep.Model)
	}
	m := tui.New(cmd.Context(), app.Mentor, strings.TrimSpace(server.Greeting)+"  "+summary)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
