package refine

import "fmt"

// Tool names as they appear in controller output.
const (
	ToolExpandDirectory   = "expand_directory"
	ToolCollapseDirectory = "collapse_directory"
	ToolSearchKeyword     = "search_keyword"
	ToolSearchCodebase    = "search_codebase"
	ToolViewFile          = "view_file"
	ToolViewRange         = "view_range"
	ToolStoreSnippet      = "store_snippet"
	ToolRemoveSnippet     = "remove_snippet"
	ToolSubmit            = "submit"
)

// ToolCall is one parsed controller instruction. The concrete types below
// are the only implementations.
type ToolCall interface {
	Tool() string
	String() string
	toolCall()
}

// ExpandDirectory shows a directory's contents in the tree.
type ExpandDirectory struct{ Path string }

// CollapseDirectory hides a directory's contents in the tree.
type CollapseDirectory struct{ Path string }

// SearchKeyword finds lines containing Query in any scanned file.
type SearchKeyword struct{ Query string }

// SearchCodebase ranks snippets against Query.
type SearchCodebase struct{ Query string }

// ViewFile shows a whole file.
type ViewFile struct{ Path string }

// ViewRange shows lines [Start, End) of a file.
type ViewRange struct {
	Path       string
	Start, End int
}

// StoreSnippet selects lines [Start, End) of a file, or, when Text is set,
// the lines that best match Text.
type StoreSnippet struct {
	Path       string
	Start, End int
	Text       string
}

// RemoveSnippet drops selected snippets of a file. With HasRange set only
// the snippet covering exactly [Start, End) is dropped.
type RemoveSnippet struct {
	Path       string
	Start, End int
	HasRange   bool
}

// Submit ends refinement with the current selection.
type Submit struct{}

func (ExpandDirectory) Tool() string   { return ToolExpandDirectory }
func (CollapseDirectory) Tool() string { return ToolCollapseDirectory }
func (SearchKeyword) Tool() string     { return ToolSearchKeyword }
func (SearchCodebase) Tool() string    { return ToolSearchCodebase }
func (ViewFile) Tool() string          { return ToolViewFile }
func (ViewRange) Tool() string         { return ToolViewRange }
func (StoreSnippet) Tool() string      { return ToolStoreSnippet }
func (RemoveSnippet) Tool() string     { return ToolRemoveSnippet }
func (Submit) Tool() string            { return ToolSubmit }

func (ExpandDirectory) toolCall()   {}
func (CollapseDirectory) toolCall() {}
func (SearchKeyword) toolCall()     {}
func (SearchCodebase) toolCall()    {}
func (ViewFile) toolCall()          {}
func (ViewRange) toolCall()         {}
func (StoreSnippet) toolCall()      {}
func (RemoveSnippet) toolCall()     {}
func (Submit) toolCall()            {}

func (c ExpandDirectory) String() string   { return fmt.Sprintf("%s(%s)", c.Tool(), c.Path) }
func (c CollapseDirectory) String() string { return fmt.Sprintf("%s(%s)", c.Tool(), c.Path) }
func (c SearchKeyword) String() string     { return fmt.Sprintf("%s(%q)", c.Tool(), c.Query) }
func (c SearchCodebase) String() string    { return fmt.Sprintf("%s(%q)", c.Tool(), c.Query) }
func (c ViewFile) String() string          { return fmt.Sprintf("%s(%s)", c.Tool(), c.Path) }

func (c ViewRange) String() string {
	return fmt.Sprintf("%s(%s:%d-%d)", c.Tool(), c.Path, c.Start, c.End)
}

func (c StoreSnippet) String() string {
	if c.Text != "" {
		return fmt.Sprintf("%s(%s, text)", c.Tool(), c.Path)
	}
	return fmt.Sprintf("%s(%s:%d-%d)", c.Tool(), c.Path, c.Start, c.End)
}

func (c RemoveSnippet) String() string {
	if c.HasRange {
		return fmt.Sprintf("%s(%s:%d-%d)", c.Tool(), c.Path, c.Start, c.End)
	}
	return fmt.Sprintf("%s(%s)", c.Tool(), c.Path)
}

func (c Submit) String() string { return c.Tool() }
