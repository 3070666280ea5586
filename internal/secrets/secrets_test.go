package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAllowlist(t *testing.T, dir string, regexes ...string) {
	t.Helper()
	quoted := make([]string, len(regexes))
	for i, r := range regexes {
		quoted[i] = fmt.Sprintf("'''%s'''", r)
	}
	body := "[allowlist]\nregexes = [" + strings.Join(quoted, ", ") + "]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AllowlistFile), []byte(body), 0o644))
}

func TestRedact_ReplacesWithMarker(t *testing.T) {
	content := "token=abcd1234efgh\nagain abcd1234efgh and key=zz99"
	res := redact(content, []secret{
		{Finding: Finding{RuleID: "generic-api-key", Line: 1}, value: "abcd1234efgh"},
		{Finding: Finding{RuleID: "short", Line: 2}, value: "zz99"},
	})

	assert.Equal(t, "token=[REDACTED:generic-api-key:abcd]\nagain [REDACTED:generic-api-key:abcd] and key=[REDACTED:short:zz99]", res.Scrubbed)
	assert.True(t, res.HasFindings())
	assert.Equal(t, map[string]int{"generic-api-key": 1, "short": 1}, res.ByRule)
}

func TestRedact_LongestFirst(t *testing.T) {
	res := redact("secret-value-long", []secret{
		{Finding: Finding{RuleID: "inner"}, value: "value"},
		{Finding: Finding{RuleID: "outer"}, value: "secret-value-long"},
	})
	assert.Equal(t, "[REDACTED:outer:secr]", res.Scrubbed)
}

func TestRedact_NoSecrets(t *testing.T) {
	res := redact("plain text", nil)
	assert.Equal(t, "plain text", res.Scrubbed)
	assert.False(t, res.HasFindings())
}

func TestNoop(t *testing.T) {
	var s Scrubber = Noop{}
	assert.False(t, s.IsEnabled())
	assert.Equal(t, "ghp_anything", s.Scrub("ghp_anything").Scrubbed)
}

func TestLoadAllowlist(t *testing.T) {
	dir := t.TempDir()

	allow, err := LoadAllowlist(dir)
	require.NoError(t, err)
	assert.Empty(t, allow.Regexes)

	writeAllowlist(t, dir, `DEMO_[A-Z]+`, `example\.com`)
	allow, err = LoadAllowlist(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{`DEMO_[A-Z]+`, `example\.com`}, allow.Regexes)
}

func TestLoadAllowlist_Invalid(t *testing.T) {
	dir := t.TempDir()
	writeAllowlist(t, dir, `([unclosed`)
	_, err := LoadAllowlist(dir)
	assert.ErrorIs(t, err, ErrInvalidRegex)

	require.NoError(t, os.WriteFile(filepath.Join(dir, AllowlistFile), []byte("[allowlist\n"), 0o644))
	_, err = LoadAllowlist(dir)
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestGitleaksScrubber_CleanContent(t *testing.T) {
	s, err := NewForWorkspace(t.TempDir())
	require.NoError(t, err)
	assert.True(t, s.IsEnabled())

	prompt := "# Feature: checkout\n\n## Task\nDraft the specification for one-page checkout.\n"
	res := s.Scrub(prompt)
	assert.Equal(t, prompt, res.Scrubbed)
	assert.False(t, res.HasFindings())
}

func TestGitleaksScrubber_RedactsOpenAIKey(t *testing.T) {
	s, err := NewGitleaks(nil)
	require.NoError(t, err)

	key := "sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
	res := s.Scrub("const apiKey = \"" + key + "\"\n")

	require.True(t, res.HasFindings())
	assert.NotContains(t, res.Scrubbed, key)
	assert.Contains(t, res.Scrubbed, "[REDACTED:")
}

func TestNewGitleaks_InvalidPattern(t *testing.T) {
	_, err := NewGitleaks(&Allowlist{Regexes: []string{"("}})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
