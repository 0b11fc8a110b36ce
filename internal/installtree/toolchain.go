package installtree

import (
	"path"
	"strings"
)

// toolchainBinaries are build-only tools that must never appear in an
// install tree or a final image. Keeping the image free of them is the
// whole point of the two-stage build.
var toolchainBinaries = map[string]bool{
	"cc":      true,
	"c++":     true,
	"gcc":     true,
	"g++":     true,
	"clang":   true,
	"clang++": true,
	"ld":      true,
	"as":      true,
	"ar":      true,
	"make":    true,
	"cmake":   true,
	"rustc":   true,
	"cargo":   true,
}

// binDirs are the directories where a leaked tool binary would be found.
var binDirs = map[string]bool{
	"bin":            true,
	"sbin":           true,
	"usr/bin":        true,
	"usr/sbin":       true,
	"usr/local/bin":  true,
	"usr/local/sbin": true,
}

// IsToolchainPath reports whether the slash-separated relative path names a
// build-only tool binary. Matching is by location and basename; versioned
// names like gcc-12 count too.
func IsToolchainPath(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	dir, base := path.Split(rel)
	if !binDirs[strings.Trim(dir, "/")] {
		return false
	}
	if toolchainBinaries[base] {
		return true
	}
	// gcc-12, clang-17, ...
	if i := strings.LastIndex(base, "-"); i > 0 && toolchainBinaries[base[:i]] {
		return true
	}
	return false
}
