package config

import (
	"strings"
	"unicode"

	"github.com/flakeforge/push/internal/errors"
)

// determineNames derives the published owner/project pair from the forge
// repository path and the optional explicit name override.
//
// GitLab repositories may live under subgroups (`owner/sub/.../name`); those
// publish flattened as `owner/sub-..-name` unless subgroup renaming is
// disabled, in which case anything beyond `owner/name` is rejected.
func determineNames(explicitName, repository string, disableRenameSubgroups bool) (uploadName, owner, project string, err error) {
	errMsg := "could not determine project owner and name; pass --repository formatted like `acme/widget`"
	if !disableRenameSubgroups {
		errMsg += " or `acme/subgroup-segments.../widget`"
	}

	segments := strings.Split(repository, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", "", "", errors.Wrap(errors.ErrInvalidInputs, "%s", errMsg)
	}
	if disableRenameSubgroups && len(segments) > 2 {
		return "", "", "", errors.Wrap(errors.ErrInvalidInputs, "%s", errMsg)
	}

	owner = segments[0]
	project = strings.Join(segments[1:], "-")

	if explicitName != "" {
		if !validUploadName(explicitName) {
			return "", "", "", errors.Wrap(errors.ErrInvalidInputs,
				"the argument --name must be in the format of `owner-name/flake-name` and cannot contain whitespace or other special characters")
		}
		uploadName = explicitName
	} else {
		uploadName = owner + "/" + project
	}

	return uploadName, owner, project, nil
}

// validUploadName requires exactly one slash, ASCII, and no whitespace.
func validUploadName(name string) bool {
	if strings.Count(name, "/") != 1 {
		return false
	}
	for _, c := range name {
		if c > unicode.MaxASCII || unicode.IsSpace(c) {
			return false
		}
	}
	return true
}
