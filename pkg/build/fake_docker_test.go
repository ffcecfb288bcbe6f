package build

import (
	"context"
	"io"
	"strings"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/network"
)

// fakeDocker is a minimal in-memory dockerapi.API for exercising the build
// engine without a live daemon.
type fakeDocker struct {
	images       []image.Summary
	buildErr     error
	buildLog     []string // JSON lines fed back as the build response body
	buildCalls   int
	removedTags  []string
}

func (f *fakeDocker) ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDocker) ImageBuild(ctx context.Context, buildContext io.Reader, opts image.BuildOptions) (image.BuildResponse, error) {
	f.buildCalls++
	if f.buildErr != nil {
		return image.BuildResponse{}, f.buildErr
	}

	var body string
	for _, line := range f.buildLog {
		body += line + "\n"
	}

	if len(opts.Tags) > 0 {
		f.images = append(f.images, image.Summary{RepoTags: []string{opts.Tags[0]}})
	}

	return image.BuildResponse{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (f *fakeDocker) ImageRemove(ctx context.Context, imageID string, opts image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.removedTags = append(f.removedTags, imageID)
	var kept []image.Summary
	for _, img := range f.images {
		keep := true
		for _, tag := range img.RepoTags {
			if tag == imageID {
				keep = false
			}
		}
		if keep {
			kept = append(kept, img)
		}
	}
	f.images = kept
	return nil, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.CreateResponse, error) {
	return container.CreateResponse{}, nil
}
func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, opts container.StartOptions) error {
	return nil
}
func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	return nil, nil
}
func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, opts container.StopOptions) error {
	return nil
}
func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	return container.InspectResponse{}, nil
}
func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, opts container.LogsOptions) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, opts container.RemoveOptions) error {
	return nil
}
func (f *fakeDocker) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return nil, nil
}
func (f *fakeDocker) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	return nil, container.PathStat{}, nil
}
func (f *fakeDocker) NetworkCreate(ctx context.Context, name string, opts network.CreateOptions) (network.CreateResponse, error) {
	return network.CreateResponse{}, nil
}
func (f *fakeDocker) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	return nil
}
func (f *fakeDocker) NetworkRemove(ctx context.Context, networkID string) error { return nil }
func (f *fakeDocker) NetworkList(ctx context.Context, opts network.ListOptions) ([]network.Summary, error) {
	return nil, nil
}
