package refine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Tags(t *testing.T) {
	raw := `Let me look around first.
<tool name="expand_directory">
<param name="path">src</param>
</tool>
<tool name="view_range"><param name="path">src/foo.py</param><param name="start">10</param><param name="end"> 20 </param></tool>
<tool name="store_snippet">
<param name="path">src/foo.py</param>
<param name="text">
def compute_total(items):
    return sum(items)
</param>
</tool>
<tool name="remove_snippet"><param name="path">docs/a.md</param></tool>
<tool name="remove_snippet"><param name="path">a.py</param><param name="start">1</param><param name="end">4</param></tool>
<tool name="search_keyword"><param name="query">compute_total</param></tool>
<tool name="search_codebase"><param name="query">where totals are computed</param></tool>
<tool name="view_file"><param name="path">setup.py</param></tool>
<tool name="collapse_directory"><param name="path">tests</param></tool>
<tool name="submit"/>`

	calls, errs := Parse(raw)
	require.Empty(t, errs)
	assert.Equal(t, []ToolCall{
		ExpandDirectory{Path: "src"},
		ViewRange{Path: "src/foo.py", Start: 10, End: 20},
		StoreSnippet{Path: "src/foo.py", Text: "def compute_total(items):\n    return sum(items)"},
		RemoveSnippet{Path: "docs/a.md"},
		RemoveSnippet{Path: "a.py", Start: 1, End: 4, HasRange: true},
		SearchKeyword{Query: "compute_total"},
		SearchCodebase{Query: "where totals are computed"},
		ViewFile{Path: "setup.py"},
		CollapseDirectory{Path: "tests"},
		Submit{},
	}, calls)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "no calls", raw: "I think the bug is in foo.py", reason: "no tool calls found"},
		{name: "unknown tool", raw: `<tool name="delete_repo"></tool>`, reason: `unknown tool "delete_repo"`},
		{name: "missing param", raw: `<tool name="view_file"></tool>`, reason: `missing parameter "path"`},
		{name: "bad integer", raw: `<tool name="view_range"><param name="path">a</param><param name="start">x</param><param name="end">2</param></tool>`, reason: "must be an integer"},
		{name: "inverted range", raw: `<tool name="store_snippet"><param name="path">a</param><param name="start">5</param><param name="end">2</param></tool>`, reason: "invalid range 5-2"},
		{name: "unclosed", raw: `<tool name="submit">`, reason: "not closed"},
		{name: "empty query", raw: `<tool name="search_keyword"><param name="query">  </param></tool>`, reason: `missing parameter "query"`},
		{name: "bad json", raw: `[{"tool": "submit"`, reason: "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, errs := Parse(tt.raw)
			assert.Empty(t, calls)
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Reason, tt.reason)
			assert.Contains(t, errs[0].Error(), "invalid tool call")
		})
	}
}

func TestParse_PartialSuccess(t *testing.T) {
	raw := `<tool name="view_file"><param name="path">a.py</param></tool>
<tool name="bogus"></tool>`
	calls, errs := Parse(raw)
	assert.Equal(t, []ToolCall{ViewFile{Path: "a.py"}}, calls)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Reason, "bogus")
}

func TestParse_JSON(t *testing.T) {
	raw := "```json\n" + `[
  {"tool": "view_range", "params": {"path": "a.py", "start": 3, "end": 9}},
  {"name": "store_snippet", "arguments": {"path": "a.py", "start": "3", "end": "9"}},
  {"tool": "submit"}
]` + "\n```"
	calls, errs := Parse(raw)
	require.Empty(t, errs)
	assert.Equal(t, []ToolCall{
		ViewRange{Path: "a.py", Start: 3, End: 9},
		StoreSnippet{Path: "a.py", Start: 3, End: 9},
		Submit{},
	}, calls)

	calls, errs = Parse(`{"tool": "expand_directory", "params": {"path": "src"}}`)
	require.Empty(t, errs)
	assert.Equal(t, []ToolCall{ExpandDirectory{Path: "src"}}, calls)
}

func TestToolCallString(t *testing.T) {
	assert.Equal(t, "view_range(a.py:1-5)", ViewRange{Path: "a.py", Start: 1, End: 5}.String())
	assert.Equal(t, "store_snippet(a.py, text)", StoreSnippet{Path: "a.py", Text: "x"}.String())
	assert.Equal(t, "remove_snippet(a.py)", RemoveSnippet{Path: "a.py"}.String())
	assert.Equal(t, `search_keyword("foo")`, SearchKeyword{Query: "foo"}.String())
	assert.Equal(t, "submit", Submit{}.String())
}
