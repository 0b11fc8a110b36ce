// Package pkgindex implements the HTTP client for the package index the
// dependency builder resolves against. The index serves one JSON document
// per package listing its releases, each pointing at a downloadable archive
// with a sha256 digest:
//
//	GET {base}/simple/{name}.json
//	{"name": "requests", "releases": [
//	    {"version": "2.31.0", "url": ".../requests-2.31.0.tar.gz", "sha256": "..."}
//	]}
//
// Resolution failures are fatal to the caller by design; retry policy
// belongs to whatever orchestrates the build, not to this client.
package pkgindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vk/kiln/internal/ctxlog"
	"github.com/vk/kiln/internal/manifest"
)

// Release is one installable version of a package as advertised by the index.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
}

type packageDocument struct {
	Name     string    `json:"name"`
	Releases []Release `json:"releases"`
}

// Client talks to a single package index.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the index rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Releases fetches the release list for a package. A 404 from the index
// means the package does not exist there.
func (c *Client) Releases(ctx context.Context, name string) ([]Release, error) {
	endpoint := fmt.Sprintf("%s/simple/%s.json", c.baseURL, url.PathEscape(strings.ToLower(name)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create index request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("package index unavailable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("package %q not found in index", name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("package index returned status %s for %q", resp.Status, name)
	}

	var doc packageDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid index response for %q: %w", name, err)
	}

	return doc.Releases, nil
}

// Resolve picks the highest release version satisfying the requirement.
func (c *Client) Resolve(ctx context.Context, req manifest.Requirement) (Release, error) {
	logger := ctxlog.FromContext(ctx)

	releases, err := c.Releases(ctx, req.Name)
	if err != nil {
		return Release{}, err
	}

	var (
		best        Release
		bestVersion manifest.Version
	)
	for _, rel := range releases {
		v, err := manifest.ParseVersion(rel.Version)
		if err != nil {
			logger.Warn("Skipping release with unparseable version.", "package", req.Name, "version", rel.Version)
			continue
		}
		if !req.Matches(v) {
			continue
		}
		if bestVersion == nil || v.Compare(bestVersion) > 0 {
			best = rel
			bestVersion = v
		}
	}

	if bestVersion == nil {
		return Release{}, fmt.Errorf("no release of %q satisfies constraint %s", req.Name, req.String())
	}

	logger.Debug("Resolved requirement.", "requirement", req.String(), "version", best.Version)
	return best, nil
}

// Download streams the release archive into dst, verifying its sha256
// digest. A digest mismatch discards the download and fails the build.
func (c *Client) Download(ctx context.Context, rel Release, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("archive download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("archive download returned status %s for %s", resp.Status, rel.URL)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(dst, hasher), resp.Body); err != nil {
		return fmt.Errorf("archive download interrupted: %w", err)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if rel.SHA256 != "" && got != rel.SHA256 {
		return fmt.Errorf("archive digest mismatch for %s: index advertises %s, got %s", rel.URL, rel.SHA256, got)
	}

	return nil
}
