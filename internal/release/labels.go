package release

import (
	"sort"
	"strings"

	"github.com/flakeforge/push/internal/output"
)

const (
	// MaxLabelLength is the longest accepted label.
	MaxLabelLength = 50

	// MaxLabels bounds the label list after canonicalization.
	MaxLabels = 25
)

// NormalizeLabels canonicalizes the union of forge topics and caller-supplied
// extras: lowercased, deduplicated, sorted, truncated to MaxLabels. Labels
// failing the character or length rule are dropped with a warning. The
// operation is idempotent.
func NormalizeLabels(topics, extras []string) []string {
	seen := make(map[string]struct{})
	labels := make([]string, 0, len(topics)+len(extras))

	for _, label := range append(append([]string{}, topics...), extras...) {
		label = strings.ToLower(strings.TrimSpace(label))
		if label == "" {
			continue
		}
		if !validLabel(label) {
			output.Warn("dropping invalid label", "label", label)
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}

	sort.Strings(labels)
	if len(labels) > MaxLabels {
		output.Warn("too many labels, keeping the first after sorting",
			"max", MaxLabels, "dropped", len(labels)-MaxLabels)
		labels = labels[:MaxLabels]
	}
	return labels
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > MaxLabelLength {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
