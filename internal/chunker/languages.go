package chunker

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language is a tree-sitter grammar the chunker can split on.
type Language struct {
	Name     string
	Grammar  func() *sitter.Language
	Suffixes []string
}

var languages = []Language{
	{Name: "python", Grammar: python.GetLanguage, Suffixes: []string{".py", ".pyi"}},
	{Name: "go", Grammar: golang.GetLanguage, Suffixes: []string{".go"}},
	{Name: "javascript", Grammar: javascript.GetLanguage, Suffixes: []string{".js", ".jsx", ".mjs", ".cjs"}},
	{Name: "typescript", Grammar: typescript.GetLanguage, Suffixes: []string{".ts", ".mts", ".cts"}},
	{Name: "tsx", Grammar: tsx.GetLanguage, Suffixes: []string{".tsx"}},
}

var bySuffix = func() map[string]*Language {
	m := make(map[string]*Language)
	for i := range languages {
		for _, s := range languages[i].Suffixes {
			m[s] = &languages[i]
		}
	}
	return m
}()

// LanguageFor returns the grammar for a file path, or nil when the file is
// chunked by line windows.
func LanguageFor(p string) *Language {
	return bySuffix[strings.ToLower(path.Ext(p))]
}
