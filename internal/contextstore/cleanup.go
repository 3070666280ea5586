package contextstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CleanupMode selects what happens to stale snapshots.
type CleanupMode string

const (
	CleanupArchive CleanupMode = "archive"
	CleanupPurge   CleanupMode = "purge"
)

// DefaultCleanupDays is the default snapshot age limit.
const DefaultCleanupDays = 14

// CleanupOptions configures Cleanup.
type CleanupOptions struct {
	Days    int
	Mode    CleanupMode
	Feature string
	DryRun  bool
}

// CleanupAction records what was (or would be) done to one snapshot.
type CleanupAction struct {
	StoredContext
	Mode        CleanupMode `json:"mode"`
	Destination string      `json:"destination,omitempty"`
}

// Cleanup archives or purges snapshots whose modification time is older than
// opts.Days. Archived files move to specs/<f>/context-archive/<phase>-<ts>.json.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) ([]CleanupAction, error) {
	if opts.Days <= 0 {
		opts.Days = DefaultCleanupDays
	}
	if opts.Mode == "" {
		opts.Mode = CleanupArchive
	}
	if opts.Mode != CleanupArchive && opts.Mode != CleanupPurge {
		return nil, fmt.Errorf("invalid cleanup mode %q", opts.Mode)
	}

	entries, err := s.Entries(ctx, opts.Feature)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cutoff := now.Add(-time.Duration(opts.Days) * 24 * time.Hour)
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(formatSavedAt(now))

	var actions []CleanupAction
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			continue
		}
		action := CleanupAction{StoredContext: e, Mode: opts.Mode}
		if opts.Mode == CleanupArchive {
			action.Destination = filepath.Join(filepath.Dir(filepath.Dir(e.Path)), "context-archive",
				fmt.Sprintf("%s-%s.json", e.Phase, stamp))
		}

		if !opts.DryRun {
			if err := applyCleanup(action); err != nil {
				return actions, err
			}
		}
		s.logger.Info(ctx, "context snapshot cleaned",
			zap.String("path", e.Path),
			zap.String("mode", string(opts.Mode)),
			zap.Bool("dry_run", opts.DryRun))
		actions = append(actions, action)
	}
	return actions, nil
}

func applyCleanup(a CleanupAction) error {
	if a.Mode == CleanupPurge {
		if err := os.Remove(a.Path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", a.Path, err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.Destination), 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	if err := os.Rename(a.Path, a.Destination); err != nil {
		return fmt.Errorf("failed to archive %s: %w", a.Path, err)
	}
	return nil
}
