package provider

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-version"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// ExtractVersion returns the first major.minor.patch triple found in tag,
// ignoring any prefix such as "v" or suffix such as "-beta".
func ExtractVersion(tag string) (*version.Version, error) {
	match := versionPattern.FindString(tag)
	if match == "" {
		return nil, fmt.Errorf("%w: no version in %q", errdefs.ErrParse, tag)
	}
	v, err := version.NewVersion(match)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrParse, err)
	}
	return v, nil
}

// IsNewer reports whether latest is strictly greater than current. A nil
// current means nothing is installed.
func IsNewer(latest, current *version.Version) bool {
	if latest == nil {
		return false
	}
	if current == nil {
		return true
	}
	return latest.GreaterThan(current)
}
