// Package build implements the Build Engine (spec.md §4.2): given a
// code_id and the fetched source tarball, it produces (or reuses) a
// container image tagged "{repo}:{code_id}".
//
// Grounded on original_source/saiblo_worker/docker_image_builder.py for
// the idempotent lookup-then-build shape, and on the Docker Engine API
// usage in _examples/other_examples' combust-labs/firebuild
// pkg/containers/docker.go for the Go client calls themselves.
package build

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/moby/moby/api/types/image"

	"github.com/saiblo/judge-worker/pkg/dockerapi"
	"github.com/saiblo/judge-worker/pkg/model"
)

// ErrBuildTimeout is returned (wrapped into the reported message) when a
// build does not finish within the configured build timeout.
var ErrBuildTimeout = errors.New("timeout when building agent code")

// Engine is the docker-backed image builder the coordinator session's
// BuildTask calls into.
type Engine struct {
	docker       dockerapi.API
	repo         string
	buildTimeout time.Duration
}

// New builds an Engine targeting the given image repository name, talking
// to docker through the given API, with the given per-build timeout.
func New(docker dockerapi.API, repo string, buildTimeout time.Duration) *Engine {
	return &Engine{docker: docker, repo: repo, buildTimeout: buildTimeout}
}

// Build produces (or reuses) an image for code_id from the tarball at
// tarballPath. It never returns an error: build failures of any kind are
// reported through BuildResult.Message, matching spec.md §4.2 ("Build
// errors ... are captured into message; the task still succeeds from the
// scheduler's perspective").
func (e *Engine) Build(ctx context.Context, codeID, tarballPath string) model.BuildResult {
	slog.Debug("building agent code", "code_id", codeID)

	if tag, err := e.lookup(ctx, codeID); err != nil {
		return model.BuildResult{CodeID: codeID, Message: err.Error()}
	} else if tag != "" {
		return model.BuildResult{CodeID: codeID, Image: tag}
	}

	tag := fmt.Sprintf("%s:%s", e.repo, codeID)

	buildCtx, cancel := context.WithTimeout(ctx, e.buildTimeout)
	defer cancel()

	diagnostic, err := e.build(buildCtx, tarballPath, tag)
	if err != nil {
		if errors.Is(buildCtx.Err(), context.DeadlineExceeded) {
			slog.Error("build timed out", "code_id", codeID)
			return model.BuildResult{CodeID: codeID, Message: fmt.Sprintf("Timeout when building agent code: %v", ErrBuildTimeout)}
		}
		slog.Error("build failed", "code_id", codeID, "error", err)
		msg := err.Error()
		if diagnostic != "" {
			msg = diagnostic
		}
		return model.BuildResult{CodeID: codeID, Message: msg}
	}

	slog.Info("agent code built", "code_id", codeID, "image", tag)
	return model.BuildResult{CodeID: codeID, Image: tag}
}

func (e *Engine) lookup(ctx context.Context, codeID string) (string, error) {
	images, err := e.docker.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return "", fmt.Errorf("list images: %w", err)
	}

	suffix := ":" + codeID
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if strings.HasPrefix(tag, e.repo+":") && strings.HasSuffix(tag, suffix) {
				return tag, nil
			}
		}
	}
	return "", nil
}

// build runs the actual image build, folding the JSON-lines build progress
// log into a diagnostic message if the build fails partway through.
func (e *Engine) build(ctx context.Context, tarballPath, tag string) (diagnostic string, err error) {
	f, err := os.Open(tarballPath)
	if err != nil {
		return "", fmt.Errorf("open build context: %w", err)
	}
	defer f.Close()

	resp, err := e.docker.ImageBuild(ctx, f, image.BuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("start image build: %w", err)
	}
	defer resp.Body.Close()

	var lastErrorMsg string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if jsonErr := json.Unmarshal(scanner.Bytes(), &line); jsonErr != nil {
			continue
		}
		if line.Error != "" {
			lastErrorMsg = line.Error
		}
	}
	if scanErr := scanner.Err(); scanErr != nil && lastErrorMsg == "" {
		lastErrorMsg = scanErr.Error()
	}

	if lastErrorMsg != "" {
		return lastErrorMsg, fmt.Errorf("image build failed: %s", lastErrorMsg)
	}

	return "", nil
}

// List returns code_id -> image tag for every image in this engine's
// repository.
func (e *Engine) List(ctx context.Context) (map[string]string, error) {
	images, err := e.docker.ImageList(ctx, image.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	out := map[string]string{}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			repo, codeID, ok := strings.Cut(tag, ":")
			if !ok || repo != e.repo {
				continue
			}
			out[codeID] = tag
		}
	}
	return out, nil
}

// Clean force-removes every image in this engine's repository.
func (e *Engine) Clean(ctx context.Context) error {
	tags, err := e.List(ctx)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := e.docker.ImageRemove(ctx, tag, image.RemoveOptions{Force: true}); err != nil {
			slog.Error("failed to remove image", "image", tag, "error", err)
		}
	}
	return nil
}
