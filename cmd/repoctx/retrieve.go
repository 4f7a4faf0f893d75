package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/repoctx/internal/config"
	httpapi "github.com/fyrsmithlabs/repoctx/internal/http"
	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
)

type retrieveFlags struct {
	repo        string
	queryFile   string
	jsonOutput  bool
	noRefine    bool
	maxSnippets int
	showTree    bool
	watch       bool
}

func newRetrieveCmd(root *rootFlags) *cobra.Command {
	flags := &retrieveFlags{}
	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Rank repository snippets for a problem statement",
		Long: `Rank repository snippets for a problem statement.

The query is taken from the arguments, from --query-file, or from stdin
when neither is given.

Examples:
  # Retrieve context for an issue in the current repository
  repoctx retrieve "checkout total ignores discounts"

  # Read the issue from a file and print JSON
  repoctx retrieve --repo ~/src/shop --query-file issue.md --json

  # Skip the model-driven refinement
  repoctx retrieve --no-refine "flaky login test"

  # Keep the ranking current while editing
  repoctx retrieve --watch "flaky login test"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd.InOrStdin(), args, flags.queryFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRetrieve(ctx, cmd.OutOrStdout(), root, flags, query)
		},
	}
	cmd.Flags().StringVar(&flags.repo, "repo", ".", "repository root")
	cmd.Flags().StringVar(&flags.queryFile, "query-file", "", "read the query from a file")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print JSON")
	cmd.Flags().BoolVar(&flags.noRefine, "no-refine", false, "skip the refinement loop")
	cmd.Flags().IntVar(&flags.maxSnippets, "max-snippets", 0, "override postprocess.max_snippets")
	cmd.Flags().BoolVar(&flags.showTree, "tree", false, "print the directory view after the snippets")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "re-run whenever files in the repository change")
	return cmd
}

func readQuery(stdin io.Reader, args []string, path string) (string, error) {
	var query string
	switch {
	case len(args) > 0:
		query = strings.Join(args, " ")
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read query file %s: %w", path, err)
		}
		query = string(b)
	default:
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		query = string(b)
	}
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("empty query")
	}
	return query, nil
}

func runRetrieve(ctx context.Context, out io.Writer, root *rootFlags, flags *retrieveFlags, query string) error {
	cfg, err := loadConfig(root, flags.repo)
	if err != nil {
		return err
	}
	if flags.maxSnippets > 0 {
		cfg.Postprocess.MaxSnippets = flags.maxSnippets
	}

	repo, err := repository.Open(flags.repo)
	if err != nil {
		return fmt.Errorf("failed to open repository %s: %w", flags.repo, err)
	}
	a, err := newApp(ctx, cfg, repo.Root())
	if err != nil {
		return err
	}
	defer a.Close()

	if flags.watch {
		return watchRetrieve(ctx, out, a, repo, cfg, flags, query)
	}
	return retrieveOnce(ctx, out, a, repo, cfg, flags, query)
}

func retrieveOnce(ctx context.Context, out io.Writer, a *app, repo repository.Repo, cfg *config.Config, flags *retrieveFlags, query string) error {
	res, err := a.pipeline.Retrieve(ctx, retrieval.Request{
		Query:      query,
		Repo:       repo,
		SkipRefine: flags.noRefine,
	})
	if err != nil {
		return err
	}
	if flags.jsonOutput {
		return writeJSON(out, httpapi.NewRetrieveResponse(res, a.outputScrubber(cfg)))
	}
	return writeText(out, res, flags.showTree)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeText(out io.Writer, res *retrieval.Result, tree bool) error {
	if res.Empty {
		_, err := fmt.Fprintln(out, "No indexable files found.")
		return err
	}
	var b strings.Builder
	if res.LexicalOnly {
		b.WriteString("(embeddings unavailable, lexical ranking only)\n")
	}
	if r := res.Refinement; r != nil {
		fmt.Fprintf(&b, "refinement: %s after %d iteration(s)", r.State, r.Iterations)
		if r.Reason != "" {
			fmt.Fprintf(&b, " (%s)", r.Reason)
		}
		b.WriteString("\n")
	}
	for i, s := range res.Snippets {
		fmt.Fprintf(&b, "%d. %s (score %.3f)\n", i+1, s.Denotation(), res.Scores[s.Denotation()])
	}
	if tree {
		b.WriteString("\n")
		b.WriteString(res.Tree)
		if !strings.HasSuffix(res.Tree, "\n") {
			b.WriteString("\n")
		}
	}
	_, err := io.WriteString(out, b.String())
	return err
}
