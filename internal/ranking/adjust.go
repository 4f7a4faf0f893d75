package ranking

import "strings"

// Rule adds Delta to a snippet's score when its path matches Pattern.
type Rule struct {
	Pattern string  `koanf:"pattern"`
	Delta   float64 `koanf:"delta"`
}

// Adjustments holds ordered rule lists. Within a list the first matching
// rule applies; matches from different lists add up.
type Adjustments struct {
	Prefix    []Rule `koanf:"prefix"`
	Suffix    []Rule `koanf:"suffix"`
	Substring []Rule `koanf:"substring"`
}

// DefaultAdjustments penalizes documentation, generated files, lock files,
// config, tests, migrations and vendored code.
func DefaultAdjustments() Adjustments {
	return Adjustments{
		Prefix: []Rule{
			{Pattern: "doc", Delta: -0.2},
			{Pattern: "example", Delta: -0.2},
		},
		Suffix: []Rule{
			{Pattern: ".min.js", Delta: -1.0},
			{Pattern: ".generated.go", Delta: -1.0},
			{Pattern: ".pb.go", Delta: -1.0},
			{Pattern: "_pb2.py", Delta: -1.0},
			{Pattern: ".lock", Delta: -1.0},
			{Pattern: ".spec.ts", Delta: -0.3},
			{Pattern: ".test.ts", Delta: -0.3},
			{Pattern: ".md", Delta: -0.3},
			{Pattern: ".rst", Delta: -0.3},
			{Pattern: ".txt", Delta: -0.3},
			{Pattern: ".json", Delta: -0.25},
			{Pattern: ".yaml", Delta: -0.25},
			{Pattern: ".yml", Delta: -0.25},
			{Pattern: ".toml", Delta: -0.25},
		},
		Substring: []Rule{
			{Pattern: "tests/", Delta: -0.25},
			{Pattern: "test_", Delta: -0.25},
			{Pattern: "_test", Delta: -0.25},
			{Pattern: "migrations/", Delta: -0.5},
			{Pattern: "vendor/", Delta: -0.5},
		},
	}
}

// Delta returns the total adjustment for path. Matching is case-insensitive.
func (a Adjustments) Delta(path string) float64 {
	p := strings.ToLower(path)
	return first(a.Prefix, p, strings.HasPrefix) +
		first(a.Suffix, p, strings.HasSuffix) +
		first(a.Substring, p, strings.Contains)
}

func first(rules []Rule, p string, match func(s, pattern string) bool) float64 {
	for _, r := range rules {
		if r.Pattern != "" && match(p, strings.ToLower(r.Pattern)) {
			return r.Delta
		}
	}
	return 0
}
