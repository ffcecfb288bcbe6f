package judge

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/image"
	"github.com/moby/moby/api/types/network"
)

// fakeDocker is an in-memory dockerapi.API double driving a scripted game
// host: it "runs" instantly and hands back a canned /app/data/ archive.
type fakeDocker struct {
	hostDataArchive []byte // tar bytes returned from CopyFromContainer on the host
	hostExitDelay   time.Duration
	hostNeverExits  bool

	networkCreateErr error // when set, NetworkCreate fails every call (simulates startAgent failure)
	containerLogs    string // returned verbatim by ContainerLogs for every container

	containers map[string]*container.InspectResponse
	networks   map[string]bool

	seq int64

	stoppedNames  []string
	removedNames  []string
	removedNets   []string
	createdNets   []string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		containers: map[string]*container.InspectResponse{},
		networks:   map[string]bool{},
	}
}

func (f *fakeDocker) nextID(prefix string) string {
	id := atomic.AddInt64(&f.seq, 1)
	return fmt.Sprintf("%s-%d", prefix, id)
}

func (f *fakeDocker) ImageList(ctx context.Context, opts image.ListOptions) ([]image.Summary, error) {
	return nil, nil
}
func (f *fakeDocker) ImageBuild(ctx context.Context, buildContext io.Reader, opts image.BuildOptions) (image.BuildResponse, error) {
	return image.BuildResponse{}, nil
}
func (f *fakeDocker) ImageRemove(ctx context.Context, imageID string, opts image.RemoveOptions) ([]image.DeleteResponse, error) {
	return nil, nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, containerName string) (container.CreateResponse, error) {
	id := f.nextID("c")
	f.containers[containerName] = &container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID: id,
			State: &container.State{
				Running: true,
			},
		},
	}
	f.containers[id] = f.containers[containerName]
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, opts container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)

	if f.hostNeverExits {
		return statusCh, errCh
	}

	go func() {
		if f.hostExitDelay > 0 {
			time.Sleep(f.hostExitDelay)
		}
		if info, ok := f.containers[containerID]; ok && info.State != nil {
			info.State.Running = false
			info.State.ExitCode = 0
		}
		statusCh <- container.WaitResponse{StatusCode: 0}
	}()

	return statusCh, errCh
}

func (f *fakeDocker) ContainerStop(ctx context.Context, containerID string, opts container.StopOptions) error {
	f.stoppedNames = append(f.stoppedNames, containerID)
	if info, ok := f.containers[containerID]; ok && info.State != nil {
		info.State.Running = false
	}
	return nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	if info, ok := f.containers[containerID]; ok {
		return *info, nil
	}
	return container.InspectResponse{}, fmt.Errorf("no such container: %s", containerID)
}

func (f *fakeDocker) ContainerLogs(ctx context.Context, containerID string, opts container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte(f.containerLogs))), nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, opts container.RemoveOptions) error {
	f.removedNames = append(f.removedNames, containerID)
	delete(f.containers, containerID)
	return nil
}

func (f *fakeDocker) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return nil, nil
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error) {
	if f.hostDataArchive == nil {
		return nil, container.PathStat{}, fmt.Errorf("no such path: %s", srcPath)
	}
	return io.NopCloser(bytes.NewReader(f.hostDataArchive)), container.PathStat{}, nil
}

func (f *fakeDocker) NetworkCreate(ctx context.Context, name string, opts network.CreateOptions) (network.CreateResponse, error) {
	if f.networkCreateErr != nil {
		return network.CreateResponse{}, f.networkCreateErr
	}
	f.networks[name] = true
	f.createdNets = append(f.createdNets, name)
	return network.CreateResponse{ID: f.nextID("net")}, nil
}

func (f *fakeDocker) NetworkConnect(ctx context.Context, networkID, containerID string, config *network.EndpointSettings) error {
	return nil
}

func (f *fakeDocker) NetworkRemove(ctx context.Context, networkID string) error {
	f.removedNets = append(f.removedNets, networkID)
	delete(f.networks, networkID)
	return nil
}

func (f *fakeDocker) NetworkList(ctx context.Context, opts network.ListOptions) ([]network.Summary, error) {
	return nil, nil
}

// buildDataArchive builds a tar archive mimicking the host's /app/data/
// directory contents.
func buildDataArchive(resultJSON string, replay []byte) []byte {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if resultJSON != "" {
		_ = tw.WriteHeader(&tar.Header{Name: "data/result.json", Size: int64(len(resultJSON))})
		_, _ = tw.Write([]byte(resultJSON))
	}
	if replay != nil {
		_ = tw.WriteHeader(&tar.Header{Name: "data/replay.dat", Size: int64(len(replay))})
		_, _ = tw.Write(replay)
	}
	_ = tw.Close()
	return buf.Bytes()
}
