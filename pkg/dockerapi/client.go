// Package dockerapi declares the narrow slice of the Docker Engine API that
// the build and judge engines need, so both can be exercised against a
// lightweight fake in tests instead of a live daemon.
//
// The real implementation (Client) wraps github.com/moby/moby/client, the
// Docker Engine API client the teacher repo (vvoland-cagent) already
// depends on transitively; the shape of the calls themselves is grounded
// on _examples/other_examples' combust-labs/firebuild
// pkg/containers/docker.go, which drives the equivalent classic
// github.com/docker/docker/client against the same daemon API.
package dockerapi

import (
	"context"
	"io"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// API is the subset of the Docker Engine API the build and judge engines
// use. A *Client backed by a real daemon and a fake backed by in-memory
// state both satisfy it.
type API interface {
	ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, opts image.BuildOptions) (image.BuildResponse, error)
	ImageRemove(ctx context.Context, imageID string, opts image.RemoveOptions) ([]image.DeleteResponse, error)

	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, opts container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, opts container.StopOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, opts container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, opts container.RemoveOptions) error
	ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)

	NetworkCreate(ctx context.Context, name string, opts network.CreateOptions) (network.CreateResponse, error)
	NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error
	NetworkRemove(ctx context.Context, networkID string) error
	NetworkList(ctx context.Context, opts network.ListOptions) ([]network.Summary, error)
}

// Client adapts the real moby/moby/client.Client to the API interface
// (a thin wrapper is unnecessary in principle since the method sets
// already match, but keeping the explicit type here documents the
// dependency and gives us a single construction point).
type Client struct {
	*client.Client
}

// NewFromEnv builds a Client configured from the standard DOCKER_HOST /
// DOCKER_CERT_PATH / DOCKER_TLS_VERIFY environment variables, negotiating
// the API version with the daemon.
func NewFromEnv() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Client{Client: cli}, nil
}
