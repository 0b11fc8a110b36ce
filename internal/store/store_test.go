package store

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/image"
)

// testImage stages a minimal two-layer image plus its blob files.
func testImage(t *testing.T, name string) (*image.Image, map[string]string) {
	t.Helper()
	staging := t.TempDir()

	layers := make([]image.LayerDescriptor, 0, 2)
	layerFiles := make(map[string]string)
	for kind, content := range map[string]string{
		image.LayerKindBase: "base-layer-bytes",
		image.LayerKindApp:  "app-layer-bytes",
	} {
		path := filepath.Join(staging, kind+".tar.gz")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		digest, size, err := image.DigestFile(path)
		require.NoError(t, err)
		layers = append(layers, image.LayerDescriptor{Kind: kind, Digest: digest, Size: size})
		layerFiles[digest] = path
	}

	cfg := &image.Config{
		Env:         []string{"PYTHONUNBUFFERED=1", "TZ=UTC"},
		Entrypoint:  []string{"python3", "/app/devaid.py"},
		WorkingDir:  "/app",
		SearchPaths: []string{"/usr/lib/python3/site-packages"},
	}
	configBytes, err := image.EncodeCanonical(cfg)
	require.NoError(t, err)

	manifest := &image.Manifest{
		SchemaVersion: image.SchemaVersion,
		Name:          name,
		CreatedAt:     time.Now().UTC(),
		ConfigDigest:  image.DigestBytes(configBytes),
		Layers:        layers,
		Trigger:       &image.TriggerDescriptor{Command: cfg.Entrypoint, Days: []string{"tuesday"}, At: "07:00"},
	}
	manifestBytes, err := image.EncodeCanonical(manifest)
	require.NoError(t, err)

	return &image.Image{
		ID:       "build-1",
		Name:     name,
		Digest:   image.DigestBytes(manifestBytes),
		Manifest: manifest,
		Config:   cfg,
	}, layerFiles
}

func openStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCommitAndLoad(t *testing.T) {
	st := openStore(t)
	img, layerFiles := testImage(t, "devaid")

	require.NoError(t, st.Commit(img, layerFiles))

	loaded, err := st.Image("devaid")
	require.NoError(t, err)
	assert.Equal(t, img.ID, loaded.ID)
	assert.Equal(t, img.Digest, loaded.Digest)
	assert.Equal(t, img.Config, loaded.Config)
	assert.Equal(t, img.Manifest.Layers, loaded.Manifest.Layers)
	require.NotNil(t, loaded.Manifest.Trigger)
	assert.Equal(t, []string{"tuesday"}, loaded.Manifest.Trigger.Days)

	for digest := range layerFiles {
		assert.FileExists(t, st.BlobPath(digest))
	}

	n, err := st.CountImages("devaid")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCommitWithMissingLayerLeavesNoImage(t *testing.T) {
	st := openStore(t)
	img, layerFiles := testImage(t, "devaid")

	// Drop one staged layer; the commit must fail before the index row.
	delete(layerFiles, img.Manifest.Layers[1].Digest)

	err := st.Commit(img, layerFiles)
	require.ErrorContains(t, err, "no staged blob")

	_, err = st.Image("devaid")
	assert.ErrorContains(t, err, "not found in store")

	n, err := st.CountImages("devaid")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImageReturnsLatest(t *testing.T) {
	st := openStore(t)

	first, firstFiles := testImage(t, "devaid")
	first.ID = "build-1"
	first.Manifest.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.Commit(first, firstFiles))

	second, secondFiles := testImage(t, "devaid")
	second.ID = "build-2"
	require.NoError(t, st.Commit(second, secondFiles))

	loaded, err := st.Image("devaid")
	require.NoError(t, err)
	assert.Equal(t, "build-2", loaded.ID)

	n, err := st.CountImages("devaid")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExport(t *testing.T) {
	st := openStore(t)
	img, layerFiles := testImage(t, "devaid")
	require.NoError(t, st.Commit(img, layerFiles))

	var buf bytes.Buffer
	require.NoError(t, st.Export(img, &buf))

	entries := make(map[string][]byte)
	tr := tar.NewReader(&buf)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = data
	}

	assert.Contains(t, entries, "manifest.json")
	assert.Contains(t, entries, "config.json")
	for _, layer := range img.Manifest.Layers {
		blob, ok := entries["layers/"+layer.Digest+".tar.gz"]
		require.True(t, ok, "layer %s missing from export", layer.Kind)
		assert.Equal(t, layer.Size, int64(len(blob)))
	}
}

func TestBuildLifecycle(t *testing.T) {
	st := openStore(t)

	// A build starts pending and is resolved to its final status.
	require.NoError(t, st.RecordBuild("b1", "", BuildStatusPending, "", time.Now(), 0))
	status, err := st.BuildStatus("b1")
	require.NoError(t, err)
	assert.Equal(t, BuildStatusPending, status)

	require.NoError(t, st.FinishBuild("b1", "devaid", BuildStatusSucceeded, "", 3*time.Second))
	status, err = st.BuildStatus("b1")
	require.NoError(t, err)
	assert.Equal(t, BuildStatusSucceeded, status)

	t.Run("failed builds keep the error", func(t *testing.T) {
		require.NoError(t, st.RecordBuild("b2", "", BuildStatusPending, "", time.Now(), 0))
		require.NoError(t, st.FinishBuild("b2", "", BuildStatusFailed, "resolve failed", time.Second))

		var errMsg string
		require.NoError(t, st.db.QueryRow(`SELECT error FROM builds WHERE id = 'b2'`).Scan(&errMsg))
		assert.Equal(t, "resolve failed", errMsg)
	})

	t.Run("finishing an unrecorded build fails", func(t *testing.T) {
		assert.ErrorContains(t, st.FinishBuild("ghost", "devaid", BuildStatusSucceeded, "", 0), "never recorded")
	})

	t.Run("unknown build id", func(t *testing.T) {
		_, err := st.BuildStatus("ghost")
		assert.ErrorContains(t, err, "not found")
	})
}

func TestRecordRun(t *testing.T) {
	st := openStore(t)

	require.NoError(t, st.RecordRun("devaid", time.Now(), 2*time.Minute, "report sent", 0))

	var exitCode int
	var output string
	require.NoError(t, st.db.QueryRow(`SELECT exit_code, output FROM runs WHERE image_name = 'devaid'`).Scan(&exitCode, &output))
	assert.Zero(t, exitCode)
	assert.Equal(t, "report sent", output)
}
