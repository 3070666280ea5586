// Package validate checks phase artifacts and stored context envelopes.
// Validators never fail on content; problems are reported in Result.
package validate

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/registry"
)

// Result is the outcome of validating one artifact.
type Result struct {
	Valid    bool           `json:"valid"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metrics  map[string]any `json:"metrics"`
}

func newResult(errs, warnings []string, metrics map[string]any) *Result {
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return &Result{Valid: len(errs) == 0, Errors: errs, Warnings: warnings, Metrics: metrics}
}

var (
	specSections = []string{
		"## Executive Summary",
		"## User Stories",
		"## Functional Requirements",
		"## Acceptance Criteria",
	}
	planSections = []string{
		"## Architecture Overview",
		"## Implementation Strategy",
		"## Validation Strategy",
	}
	ambiguousTerms = []string{
		"maybe",
		"possibly",
		"probably",
		"eventually",
		"hopefully",
		"might be able to",
		"should be able to",
	}

	topHeading         = regexp.MustCompile(`(?m)^# `)
	acceptanceMention  = regexp.MustCompile(`(?i)\bAcceptance Criteria\b`)
	integrationMention = regexp.MustCompile(`(?i)integration|interface|api`)
	riskMention        = regexp.MustCompile(`(?i)risk|mitigation|fallback`)
	taskCheckbox       = regexp.MustCompile(`^- \[[ xX]\]\s+(.+)$`)
	traceabilityTag    = regexp.MustCompile(`(?i)Spec:|Plan:|AC:`)
	qaMention          = regexp.MustCompile(`(?i)QA|test`)
	nonKeyword         = regexp.MustCompile(`[^a-z0-9\s]`)
	bulletPrefix       = regexp.MustCompile(`^[-*]\s*`)

	ambiguousPatterns = compileTerms(ambiguousTerms)
)

func compileTerms(terms []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(terms))
	for i, t := range terms {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
	}
	return out
}

func normalize(s string) string { return strings.ReplaceAll(s, "\r\n", "\n") }

func missing(content string, sections []string) []string {
	out := []string{}
	for _, s := range sections {
		if !strings.Contains(content, s) {
			out = append(out, s)
		}
	}
	return out
}

// Spec validates spec.md content.
func Spec(content string) *Result {
	if strings.TrimSpace(content) == "" {
		return newResult([]string{"Specification is empty."}, nil, map[string]any{
			"wordCount":       0,
			"missingSections": specSections,
		})
	}

	md := normalize(content)
	var errs, warnings []string

	missingSections := missing(md, specSections)
	if len(missingSections) > 0 {
		errs = append(errs, "Missing required sections: "+strings.Join(missingSections, ", "))
	}
	if !topHeading.MatchString(md) {
		warnings = append(warnings, "Specification is missing a top-level heading.")
	}

	ambiguous := []string{}
	for i, re := range ambiguousPatterns {
		if re.MatchString(md) {
			ambiguous = append(ambiguous, ambiguousTerms[i])
		}
	}
	if len(ambiguous) > 0 {
		warnings = append(warnings, "Ambiguous language detected: "+strings.Join(ambiguous, ", "))
	}

	acCount := len(acceptanceMention.FindAllStringIndex(md, -1))
	if acCount < 1 {
		errs = append(errs, "At least one acceptance criteria block is required.")
	}

	return newResult(errs, warnings, map[string]any{
		"wordCount":               len(strings.Fields(md)),
		"missingSections":         missingSections,
		"acceptanceCriteriaCount": acCount,
		"ambiguousTerms":          ambiguous,
	})
}

// Plan validates plan.md content against the acceptance criteria of spec.
func Plan(content, spec string) *Result {
	if strings.TrimSpace(content) == "" {
		return newResult([]string{"Plan is empty."}, nil, map[string]any{
			"wordCount":       0,
			"missingSections": planSections,
		})
	}

	md := normalize(content)
	lower := strings.ToLower(md)
	var errs, warnings []string

	missingSections := missing(md, planSections)
	if len(missingSections) > 0 {
		errs = append(errs, "Missing required sections: "+strings.Join(missingSections, ", "))
	}
	if !integrationMention.MatchString(md) {
		warnings = append(warnings, "Plan does not mention integration touchpoints.")
	}

	criteria := AcceptanceCriteria(spec)
	unmet := 0
	for _, c := range criteria {
		key := keyword(c)
		if key != "" && !strings.Contains(lower, key) {
			unmet++
		}
	}
	switch {
	case len(criteria) > 0 && unmet == len(criteria):
		warnings = append(warnings, "Plan does not explicitly reference acceptance criteria from the specification.")
	case unmet > 0:
		warnings = append(warnings, fmt.Sprintf("Plan is missing references for %d acceptance criteria.", unmet))
	}

	if !riskMention.MatchString(md) {
		warnings = append(warnings, "Plan does not list explicit risks or mitigations.")
	}

	return newResult(errs, warnings, map[string]any{
		"wordCount":                    len(strings.Fields(md)),
		"missingSections":              missingSections,
		"acceptanceCriteriaReferenced": len(criteria) - unmet,
		"acceptanceCriteriaTotal":      len(criteria),
	})
}

// AcceptanceCriteria returns the bullet items under every "## " heading that
// mentions acceptance criteria.
func AcceptanceCriteria(spec string) []string {
	var (
		out       []string
		inSection bool
	)
	for _, line := range strings.Split(normalize(spec), "\n") {
		if strings.HasPrefix(line, "## ") {
			inSection = strings.Contains(strings.ToLower(strings.TrimSpace(line)), "acceptance criteria")
			continue
		}
		trimmed := strings.TrimSpace(line)
		if inSection && strings.HasPrefix(trimmed, "-") {
			out = append(out, bulletPrefix.ReplaceAllString(trimmed, ""))
		}
	}
	return out
}

// keyword is the first word longer than three characters of a criterion.
func keyword(criterion string) string {
	cleaned := nonKeyword.ReplaceAllString(strings.ToLower(criterion), " ")
	for _, w := range strings.Fields(cleaned) {
		if len(w) > 3 {
			return w
		}
	}
	return ""
}

// Tasks validates tasks.md content.
func Tasks(content string) *Result {
	if strings.TrimSpace(content) == "" {
		return newResult([]string{"Task list is empty."}, nil, map[string]any{
			"taskCount":           0,
			"missingTraceability": 0,
		})
	}

	var tasks []string
	for _, line := range strings.Split(normalize(content), "\n") {
		if m := taskCheckbox.FindStringSubmatch(line); m != nil {
			tasks = append(tasks, strings.TrimSpace(m[1]))
		}
	}

	var errs, warnings []string
	if len(tasks) == 0 {
		errs = append(errs, `No checkbox-formatted tasks found (expected "- [ ] Task").`)
	}

	long, untraced, qa := 0, 0, 0
	for _, t := range tasks {
		if len(t) > 200 {
			long++
		}
		if !traceabilityTag.MatchString(t) {
			untraced++
		}
		if qaMention.MatchString(t) {
			qa++
		}
	}
	if long > 0 {
		warnings = append(warnings, fmt.Sprintf("%d tasks exceed the 200 character guideline.", long))
	}
	if untraced > 0 {
		warnings = append(warnings, fmt.Sprintf("%d tasks are missing explicit traceability tags (Spec:/Plan:/AC:).", untraced))
	}
	if qa == 0 {
		warnings = append(warnings, "No QA or testing tasks were identified.")
	}

	return newResult(errs, warnings, map[string]any{
		"taskCount":           len(tasks),
		"longTasks":           long,
		"missingTraceability": untraced,
		"qaTasks":             qa,
	})
}

// Report holds the results for a feature's phase outputs.
type Report struct {
	Spec  *Result `json:"spec"`
	Plan  *Result `json:"plan"`
	Tasks *Result `json:"tasks"`
}

// Valid reports whether every artifact passed.
func (r *Report) Valid() bool {
	return r.Spec.Valid && r.Plan.Valid && r.Tasks.Valid
}

// PhaseOutputs validates spec.md, plan.md and tasks.md in featureDir. Missing
// files validate as empty.
func PhaseOutputs(featureDir string) (*Report, error) {
	spec, err := readArtifact(featureDir, "spec.md")
	if err != nil {
		return nil, err
	}
	plan, err := readArtifact(featureDir, "plan.md")
	if err != nil {
		return nil, err
	}
	tasks, err := readArtifact(featureDir, "tasks.md")
	if err != nil {
		return nil, err
	}
	return &Report{
		Spec:  Spec(spec),
		Plan:  Plan(plan, spec),
		Tasks: Tasks(tasks),
	}, nil
}

// ForPhase validates the artifact a phase produced. Phases without a
// validator return nil.
func ForPhase(phase registry.Phase, featureDir string) (*Result, error) {
	switch phase {
	case registry.PhaseSpecify:
		spec, err := readArtifact(featureDir, "spec.md")
		if err != nil {
			return nil, err
		}
		return Spec(spec), nil
	case registry.PhasePlan:
		report, err := PhaseOutputs(featureDir)
		if err != nil {
			return nil, err
		}
		return report.Plan, nil
	case registry.PhaseTasks:
		tasks, err := readArtifact(featureDir, "tasks.md")
		if err != nil {
			return nil, err
		}
		return Tasks(tasks), nil
	default:
		return nil, nil
	}
}

func readArtifact(dir, name string) (string, error) {
	b, err := files.ReadFileIfExists(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(b), nil
}
