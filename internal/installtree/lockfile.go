package installtree

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lockfile is the reproducibility record of one install tree build: every
// requirement pinned to the exact version and digest it resolved to.
type Lockfile struct {
	Version  int                      `yaml:"version"`
	Packages map[string]LockedPackage `yaml:"packages"`
}

// LockedPackage pins a single resolved package.
type LockedPackage struct {
	Version string `yaml:"version"`
	SHA256  string `yaml:"sha256"`
}

const lockfileVersion = 1

// NewLockfile builds a lockfile from the builder's resolution results.
func NewLockfile(resolved []Resolved) *Lockfile {
	lf := &Lockfile{
		Version:  lockfileVersion,
		Packages: make(map[string]LockedPackage, len(resolved)),
	}
	for _, r := range resolved {
		lf.Packages[r.Name] = LockedPackage{Version: r.Version, SHA256: r.SHA256}
	}
	return lf
}

// Write serializes the lockfile as YAML to path.
func (lf *Lockfile) Write(path string) error {
	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("failed to marshal lockfile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	return nil
}

// ReadLockfile loads a lockfile from path.
func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("invalid lockfile %s: %w", path, err)
	}
	if lf.Version != lockfileVersion {
		return nil, fmt.Errorf("unsupported lockfile version %d in %s", lf.Version, path)
	}
	return &lf, nil
}
