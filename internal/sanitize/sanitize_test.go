package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeatureSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"checkout", "checkout"},
		{"Feature-A", "Feature-A"},
		{"feature/Checkout Flow", "feature-Checkout-Flow"},
		{"  ###  ", ""},
		{"../../etc", "etc"},
		{"v1.2..3", "v1.2.3"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FeatureSlug(tt.in))
		})
	}
}

func TestFeatureSlug_TruncatesWithHash(t *testing.T) {
	a := FeatureSlug(strings.Repeat("a", 100) + "x")
	b := FeatureSlug(strings.Repeat("a", 100) + "y")

	assert.Len(t, a, MaxFeatureLength)
	assert.NotEqual(t, a, b)
	assert.NoError(t, ValidateFeature(a))
}
