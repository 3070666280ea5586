package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ReadContextFiles loads files concurrently and renders them as prompt
// sections in the given order. Unreadable optional files are skipped.
func ReadContextFiles(ctx context.Context, files []ContextFile) (string, error) {
	if len(files) == 0 {
		return "", nil
	}

	sections := make([]string, len(files))
	g, _ := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			data, err := os.ReadFile(f.Path)
			if err != nil {
				if f.Optional {
					return nil
				}
				return fmt.Errorf("failed to load context file %s: %w", f.Path, err)
			}
			label := f.Label
			if label == "" {
				label = filepath.Base(f.Path)
			}
			sections[i] = formatSection(label, string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	out := make([]string, 0, len(sections))
	for _, s := range sections {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n"), nil
}

func formatSection(label, content string) string {
	return strings.Join([]string{"## " + label, "```markdown", strings.TrimSpace(content), "```", ""}, "\n")
}

// BuildPrompt assembles the prompt: feature heading, metadata list with
// sorted keys and empty values dropped, context sections, then the task.
func BuildPrompt(feature string, metadata map[string]string, context, task string) string {
	keys := make([]string, 0, len(metadata))
	for k, v := range metadata {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := []string{"# Feature: " + feature}
	if len(keys) > 0 {
		lines = append(lines, "## Metadata")
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("- %s: %s", k, metadata[k]))
		}
		lines = append(lines, "")
	}
	lines = append(lines, context, "## Task", strings.TrimSpace(task), "")
	return strings.Join(lines, "\n")
}
