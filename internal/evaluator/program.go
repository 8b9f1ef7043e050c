package evaluator

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/flakeforge/push/internal/errors"
)

// The schema program is parameterized by literal string substitution on two
// tokens: INCLUDE_OUTPUT_PATHS and FLAKE_URL. The evaluator is never linked
// or embedded; the program file is the whole contract.
//
//go:embed schema.nix
var schemaProgram string

const (
	tokenIncludeOutputPaths = "INCLUDE_OUTPUT_PATHS"
	tokenFlakeURL           = "FLAKE_URL"
)

// renderProgram substitutes the two parameter tokens.
func renderProgram(flakeURL string, includeOutputPaths bool) string {
	rendered := strings.ReplaceAll(schemaProgram, tokenIncludeOutputPaths, fmt.Sprintf("%t", includeOutputPaths))
	return strings.ReplaceAll(rendered, tokenFlakeURL, flakeURL)
}

// writeProgram renders the schema program against the snapshot and writes
// it to the scratch directory.
func writeProgram(scratchDir, snapshotPath string, includeOutputPaths bool) (string, error) {
	program := renderProgram("file://"+snapshotPath, includeOutputPaths)
	path := filepath.Join(scratchDir, fmt.Sprintf("schema-%s.nix", uuid.New()))
	if err := os.WriteFile(path, []byte(program), 0o644); err != nil {
		return "", errors.WrapCause(errors.ErrEvaluationFailed, err, "writing schema program")
	}
	return path, nil
}
