// Package artifact implements the content-addressed cache of agent source
// tarballs (spec.md §4.1), fetched from the coordinator's HTTP API and
// transcoded from zip to tar for use as a Docker build context.
//
// Grounded on original_source/saiblo_worker/agent_code_fetcher.py for the
// fetch-or-cache-hit flow, and on the teacher's pkg/userconfig.go for the
// atomic-write concern: it writes its config file via
// github.com/natefinch/atomic rather than a hand-rolled temp-file-plus-
// rename, so the tarball is written the same way here.
package artifact

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/saiblo/judge-worker/pkg/concurrent"
	"github.com/saiblo/judge-worker/pkg/paths"
	workersync "github.com/saiblo/judge-worker/pkg/sync"
)

// Fetcher fetches and caches agent source tarballs.
type Fetcher interface {
	// Fetch returns the path to the on-disk tarball for code_id, downloading
	// and transcoding it first if it isn't already cached.
	Fetch(ctx context.Context, codeID string) (string, error)
	// List enumerates cached tarballs by code_id.
	List() (map[string]string, error)
	// Clean removes every cached tarball.
	Clean() error
}

// HTTPFetcher is the production Fetcher: it downloads source zips from the
// coordinator and persists them as tar build contexts.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
	layout  paths.Layout

	// inflight coalesces concurrent Fetch calls for the same code_id (two
	// JudgeTasks can reference the same agent) into a single download, so
	// they can't race each other writing the same dest path.
	inflight *concurrent.Map[string, func() (string, error)]
}

// NewHTTPFetcher builds a Fetcher backed by the given HTTP client and base
// URL ("GET {baseURL}/judger/codes/{code_id}/download").
func NewHTTPFetcher(client *http.Client, baseURL string, layout paths.Layout) *HTTPFetcher {
	return &HTTPFetcher{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		layout:   layout,
		inflight: concurrent.NewMap[string, func() (string, error)](),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, codeID string) (string, error) {
	once, _ := f.inflight.LoadOrStore(codeID, workersync.OnceErr(func() (string, error) { return f.fetch(ctx, codeID) }))

	dest, err := once()
	f.inflight.Delete(codeID)
	return dest, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, codeID string) (string, error) {
	dest := f.layout.AgentCodeTarball(codeID)

	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat cached tarball for %s: %w", codeID, err)
	}

	slog.Debug("fetching agent code", "code_id", codeID)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create agent code dir: %w", err)
	}

	zipBytes, err := f.download(ctx, codeID)
	if err != nil {
		return "", err
	}

	if err := writeTarFromZip(dest, zipBytes); err != nil {
		return "", fmt.Errorf("transcode agent code %s: %w", codeID, err)
	}

	slog.Info("agent code fetched", "code_id", codeID)

	return dest, nil
}

func (f *HTTPFetcher) download(ctx context.Context, codeID string) ([]byte, error) {
	url := fmt.Sprintf("%s/judger/codes/%s/download", f.baseURL, codeID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download agent code %s: %w", codeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download agent code %s: unexpected status %s", codeID, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body for %s: %w", codeID, err)
	}
	return body, nil
}

// writeTarFromZip transcodes a zip archive into a tar file at dest,
// dropping directory entries (the build context does not need them), and
// writes it atomically via atomic.WriteFile so a crash mid-write never
// leaves a partial file observable at dest (spec.md §4.1's "partial
// tarballs must never be observable" rule).
func writeTarFromZip(dest string, zipBytes []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", zf.Name, err)
		}

		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read zip entry %s: %w", zf.Name, err)
		}

		hdr := &tar.Header{
			Name: zf.Name,
			Size: int64(len(data)),
			Mode: 0o644,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header for %s: %w", zf.Name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write tar entry %s: %w", zf.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize tar stream: %w", err)
	}

	if err := atomic.WriteFile(dest, &buf); err != nil {
		return fmt.Errorf("finalize tarball: %w", err)
	}

	return nil
}

func (f *HTTPFetcher) List() (map[string]string, error) {
	return listTarballs(f.layout)
}

func listTarballs(layout paths.Layout) (map[string]string, error) {
	entries, err := os.ReadDir(layout.AgentCodeDir())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("list agent code dir: %w", err)
	}

	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".tar" {
			continue
		}
		codeID := strings.TrimSuffix(e.Name(), ".tar")
		out[codeID] = filepath.Join(layout.AgentCodeDir(), e.Name())
	}
	return out, nil
}

func (f *HTTPFetcher) Clean() error {
	if err := os.RemoveAll(f.layout.AgentCodeDir()); err != nil {
		return fmt.Errorf("clean agent code dir: %w", err)
	}
	return nil
}
