// Package semver provides service version validation and range matching.
package semver

import (
	"fmt"
	"regexp"
	"strconv"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:version"

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// Validate checks that version parses as a semantic version.
func Validate(version string) error {
	if _, err := masterminds.NewVersion(version); err != nil {
		return fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// Range is a parsed version range. The zero Range matches every version.
type Range struct {
	raw        string
	major      int
	majorOnly  bool
	constraint *masterminds.Constraints
}

// ParseRange parses a major-only ("3") or SemVer range ("^3.2.0", ">=1.0.0 <2.0.0").
// An empty string matches everything.
func ParseRange(rangeStr string) (*Range, error) {
	r := &Range{raw: rangeStr}
	if rangeStr == "" {
		return r, nil
	}
	if IsMajorOnly(rangeStr) {
		major, _ := strconv.Atoi(rangeStr)
		r.major, r.majorOnly = major, true
		return r, nil
	}
	c, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid range %q: %w", logPrefix, rangeStr, err)
	}
	r.constraint = c
	return r, nil
}

// String returns the range as given.
func (r *Range) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}

// Matches reports whether version satisfies the range. Unparseable versions
// only match the empty range.
func (r *Range) Matches(version string) bool {
	if r == nil || r.raw == "" {
		return true
	}
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if r.majorOnly {
		return int(sv.Major()) == r.major
	}
	return r.constraint.Check(sv)
}
