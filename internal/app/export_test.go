package app

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/kiln/internal/hcl"
	"github.com/vk/kiln/internal/store"
)

func runExportCommand(t *testing.T, storeDir, outPath string) error {
	t.Helper()
	cfg, err := NewConfig(Config{
		Command:    CommandExport,
		ImageName:  "devaid",
		StoreDir:   storeDir,
		OutputPath: outPath,
		LogFormat:  "text",
		LogLevel:   "error",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	a := NewApp(&out, io.Discard, cfg, hcl.NewLoader())
	return a.Run(context.Background(), cfg)
}

func TestExportCommand(t *testing.T) {
	contextDir, indexURL := buildContext(t, "requests==2.31.0\n")
	storeDir := filepath.Join(t.TempDir(), "store")
	_, err := runBuildCommand(t, contextDir, indexURL, storeDir)
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "devaid.tar")
	require.NoError(t, runExportCommand(t, storeDir, outPath))

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()

	tr := tar.NewReader(f)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "manifest.json", hdr.Name)
}

func TestExportCommandFailureKeepsExistingFile(t *testing.T) {
	contextDir, indexURL := buildContext(t, "requests==2.31.0\n")
	storeDir := filepath.Join(t.TempDir(), "store")
	_, err := runBuildCommand(t, contextDir, indexURL, storeDir)
	require.NoError(t, err)

	// Remove a layer blob so the export fails partway through.
	st, err := store.Open(storeDir)
	require.NoError(t, err)
	img, err := st.Image("devaid")
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.NoError(t, os.Remove(st.BlobPath(img.Manifest.Layers[0].Digest)))

	outDir := t.TempDir()
	outPath := filepath.Join(outDir, "devaid.tar")
	require.NoError(t, os.WriteFile(outPath, []byte("previous export"), 0o644))

	err = runExportCommand(t, storeDir, outPath)
	require.Error(t, err)
	assert.ErrorContains(t, err, "export of devaid failed")

	// The pre-existing file survives the failed export untouched, and no
	// staging files are left behind.
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "previous export", string(data))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "devaid.tar", entries[0].Name())
}
