// Package envconf models the process-wide environment configuration baked
// into a runtime image. The configuration is fixed at image build time and
// read by the application process at every start; it is never mutated at
// runtime, so the type is immutable after construction.
package envconf

import (
	"fmt"
	"sort"
)

// The two entries every image carries. Output buffering is disabled so logs
// from the scheduled script stream immediately, and the timezone is pinned
// so the trigger's weekday math is unambiguous regardless of host locale.
const (
	UnbufferedVar   = "PYTHONUNBUFFERED"
	UnbufferedValue = "1"

	TimezoneVar   = "TZ"
	TimezoneValue = "UTC"
)

// Config is an immutable name -> value mapping. Construct it with New.
type Config struct {
	vars map[string]string
}

// New builds a Config from the fixed entries plus the recipe's extra
// variables. A recipe may restate a fixed entry with the same value, but
// overriding one to a different value is a validation error: the buffering
// and timezone guarantees are not negotiable per image.
func New(extra map[string]string) (*Config, error) {
	vars := map[string]string{
		UnbufferedVar: UnbufferedValue,
		TimezoneVar:   TimezoneValue,
	}

	for name, value := range extra {
		if fixed, ok := vars[name]; ok && value != fixed {
			return nil, fmt.Errorf("environment variable %s is fixed to %q and cannot be overridden to %q", name, fixed, value)
		}
		vars[name] = value
	}

	return &Config{vars: vars}, nil
}

// Lookup returns the value for name and whether it is set.
func (c *Config) Lookup(name string) (string, bool) {
	v, ok := c.vars[name]
	return v, ok
}

// Len returns the number of configured variables.
func (c *Config) Len() int {
	return len(c.vars)
}

// Slice renders the configuration as sorted KEY=VALUE pairs, the form both
// the image config and os/exec expect.
func (c *Config) Slice() []string {
	pairs := make([]string, 0, len(c.vars))
	for name, value := range c.vars {
		pairs = append(pairs, name+"="+value)
	}
	sort.Strings(pairs)
	return pairs
}
