package main

import (
	"github.com/spf13/cobra"

	"mentor/internal/config"
)

// NewRootCmd creates the root mentor command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mentor",
		Short:         "Coding mentor answering questions from a CSV knowledge base",
		Long:          "mentor indexes a directory of CSV files once and answers coding questions grounded on the most relevant rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ./mentor.yaml or ~/.config/mentor/config.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newIndexCmd(),
		newSearchCmd(),
	)
	return root
}

// loadConfig resolves the config file from the --config flag, then validates it.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	cfgPath, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
