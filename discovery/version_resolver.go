package discovery

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Latest is the constraint matching every version.
const Latest = "latest"

// SemverResolver picks module versions using Masterminds/semver.
type SemverResolver struct{}

// NewSemverResolver creates a new SemverResolver.
func NewSemverResolver() *SemverResolver {
	return &SemverResolver{}
}

// Resolve returns the highest version in available that satisfies
// constraint. Unparseable versions are skipped.
func (r *SemverResolver) Resolve(constraint string, available []string) (string, error) {
	var c *semver.Constraints
	var err error

	// semver has no "latest" keyword.
	if constraint == "" || constraint == Latest {
		c, err = semver.NewConstraint(">= 0.0.0-0")
	} else {
		c, err = semver.NewConstraint(constraint)
	}

	if err != nil {
		return "", fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}

	var valid []*semver.Version
	for _, vStr := range available {
		v, err := semver.NewVersion(vStr)
		if err != nil {
			continue
		}
		if c.Check(v) {
			valid = append(valid, v)
		}
	}

	if len(valid) == 0 {
		return "", fmt.Errorf("%w: no version satisfies constraint %q", ErrNoMatchingVersion, constraint)
	}

	// Ascending; the last element is the highest.
	sort.Sort(semver.Collection(valid))
	return valid[len(valid)-1].Original(), nil
}
