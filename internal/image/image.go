// Package image defines the runtime image artifact: content-addressed
// layer blobs, a config describing the process environment, and a manifest
// tying them together with the trigger descriptor.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Layer kinds, in composition order.
const (
	LayerKindBase = "base" // minimal runtime rootfs
	LayerKindDeps = "deps" // isolated install tree at its search path
	LayerKindApp  = "app"  // application script(s) at the workdir
)

// Config is the process-wide snapshot baked into the image: the environment
// the script starts with, its entrypoint, working directory, and the
// interpreter search paths the base image declares.
type Config struct {
	Env         []string `json:"env"`
	Entrypoint  []string `json:"entrypoint"`
	WorkingDir  string   `json:"working_dir"`
	SearchPaths []string `json:"search_paths"`
}

// TriggerDescriptor is the scheduling rule stored alongside the image:
// weekday names, fire time, and the command to invoke. Installed once at
// build, read by the serve supervisor at runtime.
type TriggerDescriptor struct {
	Command []string `json:"command"`
	Days    []string `json:"days"`
	At      string   `json:"at"`
}

// LayerDescriptor references one layer blob by digest.
type LayerDescriptor struct {
	Kind   string `json:"kind"`
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// Manifest lists everything the image is made of.
type Manifest struct {
	SchemaVersion int                `json:"schema_version"`
	Name          string             `json:"name"`
	CreatedAt     time.Time          `json:"created_at"`
	ConfigDigest  string             `json:"config_digest"`
	Layers        []LayerDescriptor  `json:"layers"`
	Trigger       *TriggerDescriptor `json:"trigger"`
}

// SchemaVersion of manifests this build writes.
const SchemaVersion = 1

// Image is a fully assembled runtime image.
type Image struct {
	ID       string // build id, assigned by the store
	Name     string
	Digest   string // digest of the canonical manifest encoding
	Manifest *Manifest
	Config   *Config
}

// Size returns the total layer size in bytes.
func (img *Image) Size() int64 {
	var total int64
	for _, l := range img.Manifest.Layers {
		total += l.Size
	}
	return total
}

// EncodeCanonical serializes v as the canonical JSON used for digesting.
func EncodeCanonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact: %w", err)
	}
	return data, nil
}

// DigestBytes returns the sha256 hex digest of data.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestFile returns the sha256 hex digest and size of the file at path.
func DigestFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
