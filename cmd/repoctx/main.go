// Package main implements the repoctx CLI: retrieve the snippets of a
// repository most relevant to a problem statement.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootFlags are shared by every command.
type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "repoctx",
		Short: "Repository context retrieval and relevance ranking",
		Long: `repoctx ranks the code snippets of a repository by relevance to a
problem statement. It fuses lexical search, embedding similarity and a
path heuristic, then optionally lets a language model refine the
selection with tool calls.

Configuration is read from ~/.config/repoctx/config.yaml, the target
repository's repoctx.yaml and REPOCTX_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.config/repoctx/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(newRetrieveCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newServeCmd(flags))
	return root
}
