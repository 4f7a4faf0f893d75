package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/fyrsmithlabs/repoctx/internal/http"
)

func writeRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"shop/checkout.go": `package shop

// Total sums the cart and applies the discount code.
func Total(items []Item, discount Discount) int {
	sum := 0
	for _, it := range items {
		sum += it.Price * it.Quantity
	}
	return discount.Apply(sum)
}
`,
		"shop/item.go": `package shop

type Item struct {
	Name     string
	Price    int
	Quantity int
}
`,
		"auth/login.go": `package auth

func Login(user, password string) error {
	return verify(user, password)
}
`,
		"README.md": "# shop\n\nA toy storefront.\n",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRetrieve_JSON(t *testing.T) {
	repo := writeRepo(t)
	out, err := execute(t, "", "retrieve", "--repo", repo, "--log-level", "error", "--json", "--no-refine",
		"checkout total ignores the discount")
	require.NoError(t, err)

	var r httpapi.RetrieveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.Empty)
	assert.Nil(t, r.Refinement)
	require.NotEmpty(t, r.Snippets)

	var paths []string
	for _, s := range r.Snippets {
		paths = append(paths, s.FilePath)
		assert.Equal(t, s.FilePath+":", s.Denotation[:len(s.FilePath)+1])
		assert.LessOrEqual(t, s.Start, s.End)
	}
	assert.Contains(t, paths, "shop/checkout.go")
}

func TestRetrieve_TextFromStdin(t *testing.T) {
	repo := writeRepo(t)
	out, err := execute(t, "login password check\n", "retrieve", "--repo", repo, "--log-level", "error", "--tree")
	require.NoError(t, err)
	assert.Contains(t, out, "auth/login.go:")
	assert.Contains(t, out, "(score ")
}

func TestRetrieve_MaxSnippets(t *testing.T) {
	repo := writeRepo(t)
	out, err := execute(t, "", "retrieve", "--repo", repo, "--log-level", "error", "--json", "--max-snippets", "1", "shop")
	require.NoError(t, err)

	var r httpapi.RetrieveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Len(t, r.Snippets, 1)
}

func TestRetrieve_EmptyRepository(t *testing.T) {
	out, err := execute(t, "", "retrieve", "--repo", t.TempDir(), "--log-level", "error", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "No indexable files found.")
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	_, err := execute(t, "   \n", "retrieve", "--repo", writeRepo(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty query")
}

func TestRetrieve_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "", "retrieve", "--repo", writeRepo(t), "--log-level", "loud", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--log-level")
}

func TestConfig_RedactsSecrets(t *testing.T) {
	t.Setenv("REPOCTX_CONTROLLER_API_KEY", "sk-test-0123456789abcdefghijkl")
	t.Setenv("REPOCTX_EMBEDDING_PROVIDER", "none")
	out, err := execute(t, "", "config")
	require.NoError(t, err)

	assert.NotContains(t, out, "sk-test-0123456789abcdefghijkl")
	assert.Contains(t, out, "[REDACTED]")

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	emb, ok := cfg["Embedding"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "none", emb["Provider"])
}

func TestConfig_RepoFile(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "repoctx.yaml"),
		[]byte("postprocess:\n  max_snippets: 3\n"), 0o644))
	out, err := execute(t, "", "config", "--repo", repo)
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	pp, ok := cfg["Postprocess"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, pp["MaxSnippets"])
}

func TestReadQuery(t *testing.T) {
	q, err := readQuery(strings.NewReader("ignored"), []string{"a", "b"}, "")
	require.NoError(t, err)
	assert.Equal(t, "a b", q)

	path := filepath.Join(t.TempDir(), "issue.md")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0o644))
	q, err = readQuery(strings.NewReader(""), nil, path)
	require.NoError(t, err)
	assert.Equal(t, "from file", q)

	_, err = readQuery(strings.NewReader(""), nil, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestRetrieve_JSONScrubsSecrets(t *testing.T) {
	repo := writeRepo(t)
	key := "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
	require.NoError(t, os.WriteFile(filepath.Join(repo, "shop", "client.go"),
		[]byte("package shop\n\n// checkout discount client\nconst apiKey = \""+key+"\"\n"), 0o644))

	out, err := execute(t, "", "retrieve", "--repo", repo, "--log-level", "error", "--json", "checkout discount client apiKey")
	require.NoError(t, err)
	assert.NotContains(t, out, key)
}

func TestServe_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("REPOCTX_SERVER_PORT", "70000")
	_, err := execute(t, "", "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}
