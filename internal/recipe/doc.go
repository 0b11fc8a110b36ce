// Package recipe defines the format-agnostic model of a build recipe and
// the Loader interface a concrete format (HCL today) implements. Keeping
// the model free of parser types lets the build pipeline and its tests work
// against plain structs.
package recipe
