// Package store is the local image store: content-addressed blobs on disk
// plus a SQLite index of images, build attempts, and trigger runs. Commits
// are atomic with respect to readers — blobs land first and the index row
// is inserted last, so a failed build never leaves a visible partial image.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vk/kiln/internal/fsutil"
	"github.com/vk/kiln/internal/image"
)

// Build statuses recorded in the index.
const (
	BuildStatusPending   = "pending"
	BuildStatusSucceeded = "succeeded"
	BuildStatusFailed    = "failed"
)

// Store is a handle on one store directory.
type Store struct {
	dir string
	db  *sql.DB
}

// Open opens (creating if needed) the store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store layout: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store index: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store index: %w", err)
	}

	return &Store{dir: dir, db: db}, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		digest TEXT NOT NULL,
		manifest_digest TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		layer_count INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		image_name TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		output TEXT,
		exit_code INTEGER NOT NULL
	);
`

// Close releases the index database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BlobPath returns the on-disk path of a blob by digest.
func (s *Store) BlobPath(digest string) string {
	return filepath.Join(s.dir, "blobs", digest)
}

// Commit stores a fully assembled image: every layer blob, the config and
// manifest blobs, then the index row. layerFiles maps layer digests to the
// staged blob files produced by the assembler.
func (s *Store) Commit(img *image.Image, layerFiles map[string]string) error {
	for _, layer := range img.Manifest.Layers {
		src, ok := layerFiles[layer.Digest]
		if !ok {
			return fmt.Errorf("layer %s (%s) has no staged blob", layer.Digest, layer.Kind)
		}
		if err := s.writeBlobFromFile(layer.Digest, src); err != nil {
			return err
		}
	}

	configBytes, err := image.EncodeCanonical(img.Config)
	if err != nil {
		return err
	}
	if err := s.writeBlob(img.Manifest.ConfigDigest, configBytes); err != nil {
		return err
	}

	manifestBytes, err := image.EncodeCanonical(img.Manifest)
	if err != nil {
		return err
	}
	manifestDigest := image.DigestBytes(manifestBytes)
	if err := s.writeBlob(manifestDigest, manifestBytes); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO images (id, name, digest, manifest_digest, size_bytes, layer_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, img.ID, img.Name, img.Digest, manifestDigest, img.Size(), len(img.Manifest.Layers), img.Manifest.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to index image %s: %w", img.Name, err)
	}
	return nil
}

// writeBlob writes data as a content-addressed blob, skipping if present.
func (s *Store) writeBlob(digest string, data []byte) error {
	path := s.BlobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", digest, err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) writeBlobFromFile(digest, src string) error {
	path := s.BlobPath(digest)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	tmp := path + ".tmp"
	if err := fsutil.CopyFile(src, tmp); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", digest, err)
	}
	return os.Rename(tmp, path)
}

// Image loads the most recently committed image with the given name.
func (s *Store) Image(name string) (*image.Image, error) {
	row := s.db.QueryRow(`
		SELECT id, digest, manifest_digest FROM images
		WHERE name = ? ORDER BY created_at DESC LIMIT 1
	`, name)

	var id, digest, manifestDigest string
	if err := row.Scan(&id, &digest, &manifestDigest); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("image %q not found in store", name)
		}
		return nil, fmt.Errorf("failed to query image %q: %w", name, err)
	}

	manifest, err := readBlobJSON[image.Manifest](s, manifestDigest)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", name, err)
	}
	config, err := readBlobJSON[image.Config](s, manifest.ConfigDigest)
	if err != nil {
		return nil, fmt.Errorf("image %q: %w", name, err)
	}

	return &image.Image{
		ID:       id,
		Name:     name,
		Digest:   digest,
		Manifest: manifest,
		Config:   config,
	}, nil
}

func readBlobJSON[T any](s *Store, digest string) (*T, error) {
	data, err := os.ReadFile(s.BlobPath(digest))
	if err != nil {
		return nil, fmt.Errorf("missing blob %s: %w", digest, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("corrupt blob %s: %w", digest, err)
	}
	return &v, nil
}

// CountImages returns the number of committed images with the given name.
func (s *Store) CountImages(name string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE name = ?`, name).Scan(&n)
	return n, err
}

// RecordBuild appends one build attempt to the history.
func (s *Store) RecordBuild(id, imageName, status, errMsg string, startedAt time.Time, duration time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO builds (id, image_name, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, imageName, status, errMsg, startedAt, duration.Milliseconds())
	return err
}

// FinishBuild resolves a pending build attempt to its final status.
func (s *Store) FinishBuild(id, imageName, status, errMsg string, duration time.Duration) error {
	res, err := s.db.Exec(`
		UPDATE builds SET image_name = ?, status = ?, error = ?, duration_ms = ?
		WHERE id = ?
	`, imageName, status, errMsg, duration.Milliseconds(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("build %s was never recorded", id)
	}
	return nil
}

// BuildStatus returns the recorded status of a build attempt.
func (s *Store) BuildStatus(id string) (string, error) {
	var status string
	err := s.db.QueryRow(`SELECT status FROM builds WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("build %s not found", id)
	}
	return status, err
}

// RecordRun appends one trigger invocation to the history.
func (s *Store) RecordRun(imageName string, startedAt time.Time, duration time.Duration, output string, exitCode int) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (image_name, started_at, duration_ms, output, exit_code)
		VALUES (?, ?, ?, ?, ?)
	`, imageName, startedAt, duration.Milliseconds(), output, exitCode)
	return err
}
