package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFile(t *testing.T) {
	root := t.TempDir()
	m := New(root, nil)

	path, err := m.File("checkout", "spec.md", []byte("# Spec\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".agent-os", "product", "checkout", "spec.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Spec\n", string(data))
}

func TestDirectory(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "specs", "checkout", "architecture")
	write(t, filepath.Join(src, "overview.md"), "o")
	write(t, filepath.Join(src, "diagrams", "flow.md"), "f")

	tl := logging.NewTestLogger()
	m := New(root, tl.Logger)
	got, err := m.Directory(context.Background(), "checkout", src, "architecture")
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join("architecture", "diagrams", "flow.md"),
		filepath.Join("architecture", "overview.md"),
	}, got)
	assert.FileExists(t, filepath.Join(m.ProductDir("checkout"), "architecture", "diagrams", "flow.md"))
	tl.AssertLogged(t, zapcore.InfoLevel, "mirrored artifacts to Agent OS")
}

func TestDirectory_MissingSourceIsNoop(t *testing.T) {
	root := t.TempDir()
	m := New(root, nil)

	got, err := m.Directory(context.Background(), "checkout", filepath.Join(root, "does-not-exist"), "architecture")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, statErr := os.Stat(filepath.Join(root, ".agent-os"))
	assert.True(t, os.IsNotExist(statErr), "nothing should be created")
}

func TestFeature(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "specs", "checkout")
	write(t, filepath.Join(dir, "spec.md"), "s")
	write(t, filepath.Join(dir, "tasks.md"), "t")
	write(t, filepath.Join(dir, "implementation", "task-1-a.md"), "i")
	write(t, filepath.Join(dir, "idea.md"), "not mirrored")

	m := New(root, nil)
	got, err := m.Feature(context.Background(), "checkout", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("implementation", "task-1-a.md"),
		"spec.md",
		"tasks.md",
	}, got)
	assert.NoFileExists(t, filepath.Join(m.ProductDir("checkout"), "idea.md"))

	got, err = m.Feature(context.Background(), "missing", filepath.Join(root, "specs", "missing"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStatusPath(t *testing.T) {
	assert.Equal(t, filepath.Join("ws", ".agent-os", "product", "status.json"), StatusPath("ws"))
}
