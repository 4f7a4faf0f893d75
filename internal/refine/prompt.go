package refine

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/repoctx/internal/contextmgr"
)

// SyntaxHelp documents the tool call format. It is sent with the system
// prompt and again whenever a reply contains no valid call.
const SyntaxHelp = `Reply with one or more tool calls in this format:

<tool name="TOOL">
<param name="NAME">VALUE</param>
</tool>

Line numbers start at 0 and ranges are end-exclusive: start=10 end=20
covers lines 10 through 19.

Tools:
- expand_directory(path): show a directory's entries in the tree
- collapse_directory(path): hide a directory's entries
- search_keyword(query): list lines containing query in any file
- search_codebase(query): rank code snippets against a description
- view_file(path): show a file with line numbers
- view_range(path, start, end): show lines start..end of a file
- store_snippet(path, start, end): keep lines start..end as relevant context
- store_snippet(path, text): keep the lines of path that match text
- remove_snippet(path[, start, end]): drop kept snippets of a file
- submit(): finish; the kept snippets are the answer`

const systemPrompt = `You are selecting the code a developer needs to resolve an issue in a
repository. Explore the repository with the tools below, keep every snippet
that must be read or changed to resolve the issue, drop snippets that turn
out to be irrelevant, and submit when the kept set is complete.

` + SyntaxHelp

func initialPrompt(mgr *contextmgr.Manager, preview int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue:\n%s\n\n", strings.TrimSpace(mgr.Query()))
	if ranked := mgr.DescribeRanked(preview); ranked != "" {
		b.WriteString("Candidate snippets ranked by relevance:\n")
		b.WriteString(ranked)
		b.WriteString("\n")
	}
	b.WriteString(mgr.Summary())
	return b.String()
}

func syntaxFeedback(errs []*ParseError) string {
	var b strings.Builder
	b.WriteString("Your reply contained no valid tool call.\n")
	for _, e := range errs {
		fmt.Fprintf(&b, "- %s\n", e.Reason)
	}
	b.WriteString("\n")
	b.WriteString(SyntaxHelp)
	return b.String()
}
