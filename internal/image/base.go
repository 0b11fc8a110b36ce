package image

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// BaseMetadata is the sidecar description of a base rootfs archive. For a
// base named bases/python311-slim.tar.gz it lives at
// bases/python311-slim.json. The search paths are where the interpreter in
// that rootfs looks for libraries; the assembler validates copy targets
// against them at build time.
type BaseMetadata struct {
	Interpreter string   `json:"interpreter"`
	SearchPaths []string `json:"search_paths"`
}

// LoadBaseMetadata reads the metadata sidecar for the rootfs archive at
// archivePath. A missing or empty sidecar fails the build: without declared
// search paths the copy-target validation cannot run, and skipping it is
// exactly the latent hazard the validation exists to remove.
func LoadBaseMetadata(archivePath string) (*BaseMetadata, error) {
	sidecar := sidecarPath(archivePath)

	data, err := os.ReadFile(sidecar)
	if err != nil {
		return nil, fmt.Errorf("base image metadata %s: %w", sidecar, err)
	}

	var meta BaseMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("invalid base image metadata %s: %w", sidecar, err)
	}
	if len(meta.SearchPaths) == 0 {
		return nil, fmt.Errorf("base image metadata %s declares no interpreter search paths", sidecar)
	}
	return &meta, nil
}

func sidecarPath(archivePath string) string {
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar"} {
		if strings.HasSuffix(archivePath, suffix) {
			return strings.TrimSuffix(archivePath, suffix) + ".json"
		}
	}
	return archivePath + ".json"
}
