package http

import (
	"github.com/fyrsmithlabs/repoctx/internal/redact"
	"github.com/fyrsmithlabs/repoctx/internal/retrieval"
)

// RetrieveRequest is the request body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Query      string `json:"query"`
	RepoPath   string `json:"repo_path"`
	SkipRefine bool   `json:"skip_refine,omitempty"`
}

// RetrieveResponse is the response body for POST /api/v1/retrieve.
type RetrieveResponse struct {
	ID          string              `json:"id"`
	Empty       bool                `json:"empty"`
	LexicalOnly bool                `json:"lexical_only"`
	Snippets    []SnippetResponse   `json:"snippets"`
	Refinement  *RefinementResponse `json:"refinement,omitempty"`
	Skipped     []string            `json:"skipped,omitempty"`
	DurationMS  int64               `json:"duration_ms"`
}

// SnippetResponse is one ranked snippet.
type SnippetResponse struct {
	Denotation string  `json:"denotation"`
	FilePath   string  `json:"file_path"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
	// Redactions counts secrets removed from Content.
	Redactions int `json:"redactions,omitempty"`
}

// RefinementResponse summarizes the refinement loop.
type RefinementResponse struct {
	State      string `json:"state"`
	Reason     string `json:"reason,omitempty"`
	Iterations int    `json:"iterations"`
	BadCalls   int    `json:"bad_calls"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewRetrieveResponse converts a retrieval result. scrubber may be nil.
func NewRetrieveResponse(res *retrieval.Result, scrubber Scrubber) RetrieveResponse {
	r := RetrieveResponse{
		ID:          res.ID,
		Empty:       res.Empty,
		LexicalOnly: res.LexicalOnly,
		Snippets:    make([]SnippetResponse, 0, len(res.Snippets)),
		DurationMS:  res.Duration.Milliseconds(),
	}
	for _, s := range res.Snippets {
		d := s.Denotation()
		sr := SnippetResponse{
			Denotation: d,
			FilePath:   s.FilePath,
			Start:      s.Start,
			End:        s.End,
			Score:      res.Scores[d],
			Content:    s.Text(),
		}
		if scrubber != nil {
			var findings []redact.Finding
			sr.Content, findings = scrubber.Redact(sr.Content)
			sr.Redactions = len(findings)
		}
		r.Snippets = append(r.Snippets, sr)
	}
	if res.Refinement != nil {
		r.Refinement = &RefinementResponse{
			State:      res.Refinement.State.String(),
			Reason:     res.Refinement.Reason,
			Iterations: res.Refinement.Iterations,
			BadCalls:   res.Refinement.BadCalls,
		}
	}
	for _, se := range res.Skipped {
		r.Skipped = append(r.Skipped, se.Path)
	}
	return r
}
