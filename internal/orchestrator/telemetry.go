package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/epieczko/claude-code-riskexec/internal/files"
	"github.com/epieczko/claude-code-riskexec/internal/logging"
)

// Telemetry results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// TelemetryEntry is one element of the status.json array.
type TelemetryEntry struct {
	Phase      string `json:"phase"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
	DurationMs int64  `json:"durationMs"`
	Result     string `json:"result"`
	RunID      string `json:"runId,omitempty"`
}

// NewTelemetryEntry builds an entry for a phase that ran from start to end.
func NewTelemetryEntry(phase string, start, end time.Time, result, runID string) TelemetryEntry {
	return TelemetryEntry{
		Phase:      phase,
		StartTime:  formatTime(start),
		EndTime:    formatTime(end),
		DurationMs: end.Sub(start).Milliseconds(),
		Result:     result,
		RunID:      runID,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// statusLocks serializes appends per status file.
var statusLocks sync.Map

func lockFor(path string) *sync.Mutex {
	mu, _ := statusLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// errMalformedTelemetry marks a status file that exists but is not a JSON array.
var errMalformedTelemetry = errors.New("telemetry file is not a JSON array")

// AppendTelemetry appends entry to the JSON array at path. A file holding
// anything but an array is replaced; a file that cannot be read is left
// alone and the entry dropped. Failures are logged, never returned.
func AppendTelemetry(ctx context.Context, path string, entry TelemetryEntry, logger *logging.Logger) {
	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	entries, err := readEntries(path)
	switch {
	case errors.Is(err, errMalformedTelemetry):
		logger.Warn(ctx, "existing telemetry file is not an array; overwriting",
			zap.String("path", path), zap.Error(err))
		entries = nil
	case err != nil:
		logger.Warn(ctx, "failed to read telemetry file; entry dropped",
			zap.String("path", path),
			zap.String("telemetry_phase", entry.Phase),
			zap.Error(err))
		return
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err == nil {
		err = files.WriteFileAtomic(path, data, 0o644)
	}
	if err != nil {
		logger.Warn(ctx, "failed to write telemetry entry",
			zap.String("telemetry_phase", entry.Phase), zap.Error(err))
	}
}

// ReadTelemetry returns the entries at path; a missing file yields none.
func ReadTelemetry(path string) ([]TelemetryEntry, error) {
	entries, err := readEntries(path)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []TelemetryEntry{}
	}
	return entries, nil
}

func readEntries(path string) ([]TelemetryEntry, error) {
	raw, err := files.ReadFileIfExists(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if raw == nil {
		return nil, nil
	}
	var entries []TelemetryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errMalformedTelemetry, path, err)
	}
	return entries, nil
}
