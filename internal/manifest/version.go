package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a dotted numeric release identifier, e.g. 2.31.0.
// Pre-release and local version tags are not supported.
type Version []int

// ParseVersion parses a dotted numeric version string.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q", s)
		}
		v = append(v, n)
	}
	return v, nil
}

// Compare returns -1, 0, or 1 ordering v against other. Missing segments
// compare as zero, so 1.2 == 1.2.0.
func (v Version) Compare(other Version) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}
	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}
