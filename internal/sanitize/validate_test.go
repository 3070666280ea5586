package sanitize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFeature(t *testing.T) {
	valid := []string{"checkout", "Feature-A", "001-search", "v1.2_beta"}
	for _, name := range valid {
		assert.NoError(t, ValidateFeature(name), name)
	}

	invalid := []string{"", "..", "a/b", `a\b`, "-lead", ".hidden", "x..y", "sp ace"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateFeature(name), ErrInvalidFeature, name)
	}
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	_, err := ValidatePath("", root)
	assert.ErrorIs(t, err, ErrEmptyPath)

	got, err := ValidatePath(filepath.Join(root, "specs", "checkout"), root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "specs", "checkout"), got)

	_, err = ValidatePath(filepath.Join(root, "..", "etc"), root)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = ValidatePath("/etc/passwd", root)
	assert.ErrorIs(t, err, ErrPathTraversal)

	got, err = ValidatePath("relative/dir", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
