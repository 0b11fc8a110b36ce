// Package manifest parses the dependency manifest: an ordered, read-only
// list of required packages with version constraints, one per line in the
// usual requirements style:
//
//	# comment
//	requests==2.31.0
//	beautifulsoup4>=4.12
//	openai~=1.30.0
//	schedule
//
// The manifest is provided before a build and never mutated by it.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Constraint operators, in the order they are probed during parsing.
// Two-character operators must come first so ">=" is not read as ">".
var operators = []string{"==", ">=", "<=", "~="}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// Requirement is a single (package name, version constraint) pair.
// An empty Op means any version satisfies the requirement.
type Requirement struct {
	Name    string
	Op      string
	Version Version
}

// Matches reports whether the candidate version satisfies the constraint.
func (r Requirement) Matches(candidate Version) bool {
	switch r.Op {
	case "":
		return true
	case "==":
		return candidate.Compare(r.Version) == 0
	case ">=":
		return candidate.Compare(r.Version) >= 0
	case "<=":
		return candidate.Compare(r.Version) <= 0
	case "~=":
		// Compatible release: at least the stated version, staying within
		// the release series named by all but its last segment.
		if candidate.Compare(r.Version) < 0 {
			return false
		}
		series := r.Version[:len(r.Version)-1]
		if len(candidate) < len(series) {
			candidate = append(append(Version{}, candidate...), make(Version, len(series)-len(candidate))...)
		}
		return candidate[:len(series)].Compare(series) == 0
	default:
		return false
	}
}

// String renders the requirement in its manifest form.
func (r Requirement) String() string {
	if r.Op == "" {
		return r.Name
	}
	return r.Name + r.Op + r.Version.String()
}

// Manifest is the parsed dependency manifest. Requirements keep the order
// they were declared in.
type Manifest struct {
	Requirements []Requirement
}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse parses manifest lines from r. Blank lines and '#' comments are
// ignored; any other malformed line is a fatal parse error naming the line
// number.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		req, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		m.Requirements = append(m.Requirements, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

func parseLine(line string) (Requirement, error) {
	for _, op := range operators {
		name, rawVersion, found := strings.Cut(line, op)
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		if !namePattern.MatchString(name) {
			return Requirement{}, fmt.Errorf("invalid package name %q", name)
		}
		version, err := ParseVersion(strings.TrimSpace(rawVersion))
		if err != nil {
			return Requirement{}, fmt.Errorf("package %s: %w", name, err)
		}
		if op == "~=" && len(version) < 2 {
			return Requirement{}, fmt.Errorf("package %s: ~= requires at least two version segments", name)
		}
		return Requirement{Name: name, Op: op, Version: version}, nil
	}

	if !namePattern.MatchString(line) {
		return Requirement{}, fmt.Errorf("invalid requirement %q", line)
	}
	return Requirement{Name: line}, nil
}
