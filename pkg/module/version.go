package module

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/stormstack/lightning/pkg/errdefs"
)

// Version is a major.minor[.patch] module version.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "major.minor" or "major.minor.patch".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return Version{}, errdefs.BadRequest("invalid version %q", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, errdefs.BadRequest("invalid version %q", s)
		}
		nums[i] = n
	}
	v := Version{Major: nums[0], Minor: nums[1]}
	if len(nums) == 3 {
		v.Patch = nums[2]
	}
	return v, nil
}

// MustVersion parses a version literal and panics on failure. For use in
// module declarations only.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Satisfies reports whether a resolved version meets a requirement: same
// major, and minor at least the required minor.
func (v Version) Satisfies(required Version) bool {
	return v.Major == required.Major && v.Minor >= required.Minor
}
