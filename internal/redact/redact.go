// Package redact removes secrets from text before it leaves the process.
//
// Detection uses the gitleaks default rule set, optionally narrowed by an
// allowlist read from a repository's .gitleaks.toml. Each secret is
// replaced by a [REDACTED:rule-id:preview] marker.
package redact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")
	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// AllowlistFile is the per-repository allowlist file name.
const AllowlistFile = ".gitleaks.toml"

const previewLen = 4

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Allowlist excludes content patterns from detection.
type Allowlist struct {
	Regexes []string
}

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor with the gitleaks default rules plus allowlist,
// which may be nil.
func New(allowlist *Allowlist) (*Redactor, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if allowlist != nil && len(allowlist.Regexes) > 0 {
		if err := applyAllowlist(&d.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Redactor{detector: d}, nil
}

// ForRepository builds a Redactor using root's .gitleaks.toml when present.
func ForRepository(root string) (*Redactor, error) {
	allowlist, err := LoadAllowlist(filepath.Join(root, AllowlistFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return New(allowlist)
}

// LoadAllowlist reads the [allowlist] table of a gitleaks TOML file.
func LoadAllowlist(path string) (*Allowlist, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	var file struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	return &Allowlist{Regexes: file.Allowlist.Regexes}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "repository allowlist"}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// Detect returns the secrets found in content.
func (r *Redactor) Detect(content string) []Finding {
	r.mu.Lock()
	raw := r.detector.DetectString(content)
	r.mu.Unlock()

	out := make([]Finding, 0, len(raw))
	for _, f := range raw {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: secret})
	}
	return out
}

// Redact replaces every detected secret in content with a marker.
func (r *Redactor) Redact(content string) (string, []Finding) {
	findings := r.Detect(content)
	if len(findings) == 0 {
		return content, nil
	}

	// longest first so a secret containing another is replaced whole
	sorted := append([]Finding(nil), findings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Secret) > len(sorted[j].Secret)
	})
	for _, f := range sorted {
		content = strings.ReplaceAll(content, f.Secret, marker(f))
	}
	return content, findings
}

func marker(f Finding) string {
	preview := f.Secret
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview)
}
