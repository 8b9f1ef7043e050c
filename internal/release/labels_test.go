package release

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabels(t *testing.T) {
	t.Run("lowercases, dedupes, and sorts", func(t *testing.T) {
		labels := NormalizeLabels([]string{"Nix", "CI", "nix"}, []string{"tooling"})
		assert.Equal(t, []string{"ci", "nix", "tooling"}, labels)
	})

	t.Run("drops labels with invalid characters", func(t *testing.T) {
		labels := NormalizeLabels([]string{"good-label", "bad label", "worse_label"}, nil)
		assert.Equal(t, []string{"good-label"}, labels)
	})

	t.Run("drops labels over the length limit", func(t *testing.T) {
		long := strings.Repeat("a", MaxLabelLength+1)
		labels := NormalizeLabels([]string{long, "ok"}, nil)
		assert.Equal(t, []string{"ok"}, labels)
	})

	t.Run("truncates to the maximum count", func(t *testing.T) {
		var many []string
		for i := 0; i < MaxLabels+10; i++ {
			many = append(many, fmt.Sprintf("label-%03d", i))
		}
		labels := NormalizeLabels(many, nil)
		assert.Len(t, labels, MaxLabels)
	})

	t.Run("is idempotent", func(t *testing.T) {
		input := []string{"Zeta", "alpha", "ALPHA", "beta-9"}
		once := NormalizeLabels(input, nil)
		twice := NormalizeLabels(once, nil)
		assert.Equal(t, once, twice)
	})

	t.Run("empty input yields an empty list", func(t *testing.T) {
		assert.Empty(t, NormalizeLabels(nil, nil))
	})
}
