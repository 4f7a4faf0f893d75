package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
)

const toolRetrieve = "retrieve"

type retrieveInput struct {
	Query      string `json:"query" jsonschema:"Problem statement or issue text to find relevant code for"`
	RepoPath   string `json:"repo_path" jsonschema:"Absolute path to the repository root"`
	SkipRefine bool   `json:"skip_refine,omitempty" jsonschema:"Skip the model-driven refinement of the ranking"`
}

type retrieveSnippet struct {
	Denotation string  `json:"denotation" jsonschema:"path:start-end with 0-based end-exclusive lines"`
	Score      float64 `json:"score" jsonschema:"Fused relevance score"`
	Content    string  `json:"content" jsonschema:"Snippet text"`
}

type retrieveOutput struct {
	ID          string            `json:"id" jsonschema:"Retrieval ID for log correlation"`
	Empty       bool              `json:"empty" jsonschema:"True when the repository had nothing to index"`
	LexicalOnly bool              `json:"lexical_only" jsonschema:"True when embeddings were unavailable"`
	Refinement  string            `json:"refinement,omitempty" jsonschema:"Refinement loop outcome"`
	Snippets    []retrieveSnippet `json:"snippets" jsonschema:"Ranked snippets, most relevant first"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolRetrieve,
		Description: "Rank the code snippets of a repository by relevance to a problem statement",
	}, s.handleRetrieve)
}

func (s *Server) handleRetrieve(ctx context.Context, _ *mcp.CallToolRequest, args retrieveInput) (*mcp.CallToolResult, retrieveOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, toolRetrieve)
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, toolRetrieve)
		s.metrics.RecordInvocation(ctx, toolRetrieve, time.Since(start), toolErr)
	}()

	if strings.TrimSpace(args.Query) == "" {
		toolErr = fmt.Errorf("invalid query: empty")
		return nil, retrieveOutput{}, toolErr
	}
	root, err := s.repoRoot(args.RepoPath)
	if err != nil {
		toolErr = err
		return nil, retrieveOutput{}, toolErr
	}
	repo, err := s.open(root)
	if err != nil {
		toolErr = fmt.Errorf("repository not found: %w", err)
		return nil, retrieveOutput{}, toolErr
	}

	res, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:      args.Query,
		Repo:       repo,
		SkipRefine: args.SkipRefine,
	})
	if err != nil {
		toolErr = err
		s.logger.Error("retrieval failed", zap.String("root", root), zap.Error(err))
		return nil, retrieveOutput{}, toolErr
	}

	out := retrieveOutput{
		ID:          res.ID,
		Empty:       res.Empty,
		LexicalOnly: res.LexicalOnly,
		Snippets:    make([]retrieveSnippet, 0, len(res.Snippets)),
	}
	if res.Refinement != nil {
		out.Refinement = res.Refinement.State.String()
	}
	var b strings.Builder
	for i, sn := range res.Snippets {
		d := sn.Denotation()
		text := sn.Text()
		if s.scrubber != nil {
			text, _ = s.scrubber.Redact(text)
		}
		out.Snippets = append(out.Snippets, retrieveSnippet{Denotation: d, Score: res.Scores[d], Content: text})
		fmt.Fprintf(&b, "%d. %s (score %.3f)\n", i+1, d, res.Scores[d])
	}
	s.metrics.RecordSnippets(ctx, toolRetrieve, len(out.Snippets))
	summary := fmt.Sprintf("Found %d snippets", len(out.Snippets))
	if res.Empty {
		summary = "No indexable files found"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary + "\n" + b.String()},
		},
	}, out, nil
}
