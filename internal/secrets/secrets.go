// Package secrets redacts credentials from text before it leaves the process,
// using the gitleaks rule set plus an optional .gitleaks.toml allowlist.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
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

// AllowlistFile is the per-workspace allowlist name.
const AllowlistFile = ".gitleaks.toml"

// Scrubber redacts secrets from content.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

// Finding describes one redacted secret. The secret itself is never kept.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the outcome of a Scrub call.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// HasFindings reports whether anything was redacted.
func (r *Result) HasFindings() bool { return len(r.Findings) > 0 }

// Allowlist holds content patterns that are never redacted.
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist reads dir/.gitleaks.toml. A missing file yields an empty
// allowlist; an invalid file or pattern is an error.
func LoadAllowlist(dir string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Regexes []string
		}
	}

	path := filepath.Join(dir, AllowlistFile)
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes}, nil
}

// GitleaksScrubber runs the default gitleaks rules.
type GitleaksScrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewGitleaks builds a scrubber, extending the default rules with allow.
func NewGitleaks(allow *Allowlist) (*GitleaksScrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create gitleaks detector: %w", err)
	}
	if allow != nil && len(allow.Regexes) > 0 {
		entry := &gitleaksConfig.Allowlist{Description: "speckit workspace allowlist"}
		for _, p := range allow.Regexes {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
			}
			entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, entry)
	}
	return &GitleaksScrubber{detector: detector}, nil
}

// NewForWorkspace loads root's allowlist and builds a scrubber.
func NewForWorkspace(root string) (*GitleaksScrubber, error) {
	allow, err := LoadAllowlist(root)
	if err != nil {
		return nil, err
	}
	return NewGitleaks(allow)
}

// Scrub implements Scrubber.
func (s *GitleaksScrubber) Scrub(content string) *Result {
	s.mu.Lock()
	found := s.detector.DetectString(content)
	s.mu.Unlock()

	secrets := make([]secret, 0, len(found))
	for _, f := range found {
		secrets = append(secrets, secret{
			Finding: Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine},
			value:   f.Secret,
		})
	}
	return redact(content, secrets)
}

// IsEnabled implements Scrubber.
func (s *GitleaksScrubber) IsEnabled() bool { return true }

// Noop leaves content untouched.
type Noop struct{}

// Scrub returns content unchanged.
func (Noop) Scrub(content string) *Result { return &Result{Scrubbed: content} }

// IsEnabled returns false.
func (Noop) IsEnabled() bool { return false }

type secret struct {
	Finding
	value string
}

// redact replaces every occurrence of each secret with
// [REDACTED:<rule>:<first four chars>]. Longer secrets are replaced first so a
// secret that contains another is not split.
func redact(content string, secrets []secret) *Result {
	res := &Result{Scrubbed: content}
	if len(secrets) == 0 {
		return res
	}

	sorted := append([]secret(nil), secrets...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].value) > len(sorted[j].value) })

	res.ByRule = make(map[string]int)
	for _, s := range sorted {
		res.Findings = append(res.Findings, s.Finding)
		res.ByRule[s.RuleID]++
		if s.value == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", s.RuleID, preview(s.value, 4))
		res.Scrubbed = strings.ReplaceAll(res.Scrubbed, s.value, marker)
	}
	return res
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Scrubber = (*GitleaksScrubber)(nil)
var _ Scrubber = Noop{}
