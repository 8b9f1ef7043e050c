package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette — named constants for the ANSI 256 colors used by the CLI.
// These are the single source of truth; never use inline lipgloss.Color literals.
var (
	// ColorCyan is used for identifiable nouns: flake names, versions, flakerefs.
	ColorCyan = lipgloss.Color("14")

	// ColorGreenCheck is used for the completion checkmark (✔).
	ColorGreenCheck = lipgloss.Color("10")

	// ColorDimGray is a dim gray for structural chrome. No style in this
	// package uses it; StyleDim renders chrome faint instead.
	ColorDimGray = lipgloss.Color("240")
)

// Semantic styles — map domain concepts to visual presentation.
var (
	// StyleNoun styles identifiable nouns (flake names, versions, flakerefs).
	StyleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

	// StyleDim styles structural chrome (separators, hosts).
	StyleDim = lipgloss.NewStyle().Faint(true)

	// StyleSummary styles completion and summary lines.
	StyleSummary = lipgloss.NewStyle().Bold(true)

	styleCheck = lipgloss.NewStyle().Foreground(ColorGreenCheck)
)

// FormatFlakeRef styles an owner/project@version reference for log output.
func FormatFlakeRef(name, version string) string {
	return StyleNoun.Render(name) + StyleDim.Render("@") + StyleNoun.Render(version)
}

// FormatPublished renders the final success line for a published release.
func FormatPublished(name, version string) string {
	return fmt.Sprintf("%s %s",
		styleCheck.Render("✔"),
		StyleSummary.Render(fmt.Sprintf("published %s", FormatFlakeRef(name, version))),
	)
}
