package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repoctx/internal/config"
)

func loadConfig(root *rootFlags, repoRoot string) (*config.Config, error) {
	cfg, err := config.Load(config.Options{Path: root.configPath, RepoRoot: repoRoot})
	if err != nil {
		return nil, err
	}
	if root.logLevel != "" {
		cfg.Logging.Level = root.logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
	}
	return cfg, nil
}

func newConfigCmd(root *rootFlags) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration as JSON after merging defaults, config
files and environment variables. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, repo)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "also merge this repository's repoctx.yaml")
	return cmd
}
