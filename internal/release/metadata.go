package release

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/flakeforge/push/internal/config"
	"github.com/flakeforge/push/internal/evaluator"
	"github.com/flakeforge/push/internal/forge"
	"github.com/flakeforge/push/internal/output"
)

// Metadata is the release-metadata document POSTed to the Hub when
// reserving a release.
type Metadata struct {
	Description      *string              `json:"description"`
	RawFlakeMetadata json.RawMessage      `json:"raw_flake_metadata"`
	Readme           *string              `json:"readme"`
	Repo             string               `json:"repo"`
	Revision         *string              `json:"revision"`
	CommitCount      *int                 `json:"commit_count"`
	Visibility       config.Visibility    `json:"visibility"`
	MirroredFrom     *string              `json:"mirrored_from"`
	SpdxIdentifier   *string              `json:"spdx_identifier"`
	Labels           []string             `json:"labels"`
	Outputs          *evaluator.Inventory `json:"outputs"`
}

// AssembleInputs carries everything the metadata assembler combines.
type AssembleInputs struct {
	Options    *config.Options
	UploadName string
	FlakeDir   string

	Facts     *forge.Facts
	Inventory *evaluator.Inventory

	// RawFlakeMetadata is the evaluator's metadata document, verbatim.
	RawFlakeMetadata json.RawMessage

	Revision    string
	CommitCount int
}

// Assemble combines forge facts, evaluator outputs, and caller inputs into
// the release metadata document. Facts a forge could not provide degrade to
// null fields.
func Assemble(in AssembleInputs) (*Metadata, error) {
	facts := in.Facts
	if facts == nil {
		facts = &forge.Facts{}
	}

	spdx, err := ResolveSpdx(in.Options.SpdxExpression, facts.LicenseSpdx)
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		RawFlakeMetadata: in.RawFlakeMetadata,
		Repo:             in.UploadName,
		Visibility:       in.Options.Visibility,
		Labels:           NormalizeLabels(facts.Topics, in.Options.ExtraLabels),
		Outputs:          in.Inventory,
		Description:      description(in.RawFlakeMetadata, facts),
		Readme:           readme(in.FlakeDir, facts),
	}

	if in.Revision != "" {
		md.Revision = &in.Revision
	}
	if in.CommitCount > 0 {
		md.CommitCount = &in.CommitCount
	}
	if spdx != "" {
		md.SpdxIdentifier = &spdx
	}
	if in.Options.Mirror && in.Options.Repository != in.UploadName {
		md.MirroredFrom = &in.Options.Repository
	}

	return md, nil
}

// description prefers the flake's own metadata description over the forge's
// repository description.
func description(rawMeta json.RawMessage, facts *forge.Facts) *string {
	if d := gjson.GetBytes(rawMeta, "description"); d.Exists() && d.String() != "" {
		s := d.String()
		return &s
	}
	if facts.Description != "" {
		d := facts.Description
		return &d
	}
	return nil
}

// readme prefers forge-provided readme text, falling back to a
// case-insensitive README.md lookup in the flake directory.
func readme(flakeDir string, facts *forge.Facts) *string {
	if facts.ReadmeText != "" {
		r := facts.ReadmeText
		return &r
	}

	entries, err := os.ReadDir(flakeDir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(entry.Name(), "README.md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(flakeDir, entry.Name()))
		if err != nil {
			output.Warn("could not read readme", "path", entry.Name(), "error", err)
			return nil
		}
		s := string(data)
		return &s
	}
	return nil
}
