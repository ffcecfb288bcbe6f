// Package judge implements the Judge Engine (spec.md §4.3): given a
// match_id, a game-host image, and an ordered list of optional agent
// images, it runs a multi-container match and produces a MatchResult.
//
// Grounded on original_source/saiblo_worker/docker_judger.py for the
// container/network orchestration sequence and the idempotent
// replay+result persistence, and on the Docker Engine API usage pattern in
// _examples/other_examples' combust-labs/firebuild pkg/containers/docker.go
// for the individual client calls.
package judge

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/saiblo/judge-worker/pkg/dockerapi"
	"github.com/saiblo/judge-worker/pkg/model"
	"github.com/saiblo/judge-worker/pkg/paths"
)

const (
	hostPrefix  = "saiblo-worker-host"
	agentPrefix = "saiblo-worker-agent"
	netPrefix   = "saiblo-worker-net"

	gameHostPort = "14514"
)

// Resources bundles the resource caps applied to host and agent containers,
// sourced from configuration (spec.md §6).
type Resources struct {
	AgentNanoCPUs    int64
	AgentMemBytes    int64
	GameHostNanoCPUs int64
	GameHostMemBytes int64
}

// Engine runs matches by driving docker containers and networks directly.
type Engine struct {
	docker       dockerapi.API
	layout       paths.Layout
	resources    Resources
	judgeTimeout time.Duration
}

// New builds an Engine.
func New(docker dockerapi.API, layout paths.Layout, resources Resources, judgeTimeout time.Duration) *Engine {
	return &Engine{docker: docker, layout: layout, resources: resources, judgeTimeout: judgeTimeout}
}

// slot is the engine's working model of a match participant.
type slot struct {
	index       int
	image       string // empty means no agent (spec.md's "None" slot)
	token       string
	containerID string
	networkID   string
	exitCode    int
	started     bool
}

// Judge runs (or replays) a match and always returns a MatchResult — it
// never returns an error, matching the "failure mapping" contract in
// spec.md §4.3: any failure becomes a MatchResult with UE statuses.
func (e *Engine) Judge(ctx context.Context, matchID, gameHostImage string, agentImages []string) model.MatchResult {
	if cached, ok := e.loadPersisted(matchID); ok {
		slog.Debug("replaying persisted match result", "match_id", matchID)
		return cached
	}

	slots := make([]*slot, len(agentImages))
	for i, img := range agentImages {
		s := &slot{index: i, image: img}
		if img != "" {
			s.token = uuid.NewString()
		}
		slots[i] = s
	}

	names := e.names(matchID, slots)
	defer e.cleanup(names)

	result, err := e.run(ctx, matchID, gameHostImage, slots, names)
	if err != nil {
		slog.Error("match failed", "match_id", matchID, "error", err)
		failed := model.FailedMatchResult(matchID, len(slots), err, result.HostStderr)
		return failed
	}

	if err := e.persist(matchID, result); err != nil {
		slog.Error("failed to persist match result", "match_id", matchID, "error", err)
	}

	return result
}

type objectNames struct {
	host    string
	agents  []string // empty string for None slots
	nets    []string // empty string for None slots
}

func (e *Engine) names(matchID string, slots []*slot) objectNames {
	n := objectNames{
		host:   fmt.Sprintf("%s-%s", hostPrefix, matchID),
		agents: make([]string, len(slots)),
		nets:   make([]string, len(slots)),
	}
	for _, s := range slots {
		if s.image == "" {
			continue
		}
		n.agents[s.index] = fmt.Sprintf("%s-%s-%d", agentPrefix, matchID, s.index)
		n.nets[s.index] = fmt.Sprintf("%s-%s-%d", netPrefix, matchID, s.index)
	}
	return n
}

// run executes the protocol steps 1-6 of spec.md §4.3 and returns the
// assembled MatchResult. The caller is responsible for persisting it.
func (e *Engine) run(ctx context.Context, matchID, gameHostImage string, slots []*slot, names objectNames) (model.MatchResult, error) {
	tokens := make([]string, 0, len(slots))
	for _, s := range slots {
		if s.token != "" {
			tokens = append(tokens, s.token)
		}
	}

	hostID, err := e.startHost(ctx, names.host, gameHostImage, strings.Join(tokens, ","))
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("start game host: %w", err)
	}

	for _, s := range slots {
		if s.image == "" {
			continue
		}
		if err := e.startAgent(ctx, s, names, hostID, names.host); err != nil {
			return model.MatchResult{HostStderr: e.containerStderr(hostID)}, fmt.Errorf("start agent %d: %w", s.index, err)
		}
	}

	exitErr := e.waitForHost(ctx, hostID)

	_ = e.docker.ContainerStop(context.Background(), hostID, container.StopOptions{Timeout: intPtr(0)})

	hostStderr := e.containerStderr(hostID)

	if exitErr != nil {
		return model.MatchResult{HostStderr: hostStderr}, exitErr
	}

	for _, s := range slots {
		if s.image == "" || !s.started {
			continue
		}
		s.exitCode = e.stopOrCollectExit(ctx, s.containerID)
	}

	scores, replayBytes, err := e.harvest(ctx, hostID)
	if err != nil {
		return model.MatchResult{HostStderr: hostStderr}, fmt.Errorf("harvest host results: %w", err)
	}

	if err := os.MkdirAll(e.layout.MatchReplayDir(), 0o755); err != nil {
		return model.MatchResult{HostStderr: hostStderr}, fmt.Errorf("create replay dir: %w", err)
	}
	replayPath := e.layout.MatchReplayPath(matchID)
	if err := os.WriteFile(replayPath, replayBytes, 0o644); err != nil {
		return model.MatchResult{HostStderr: hostStderr}, fmt.Errorf("write replay: %w", err)
	}

	agentResults := make([]model.AgentResult, len(slots))
	for _, s := range slots {
		if s.image == "" {
			agentResults[s.index] = model.CancelledAgentResult()
			continue
		}
		status := model.StatusOK
		if s.exitCode != 0 {
			status = model.StatusRE
		}
		agentResults[s.index] = model.AgentResult{
			ExitCode: s.exitCode,
			Score:    scores[s.token],
			Status:   status,
			Stderr:   e.containerStderr(s.containerID),
		}
	}

	return model.MatchResult{
		MatchID:      matchID,
		AgentResults: agentResults,
		ErrorMessage: "",
		ReplayPath:   replayPath,
		HostStderr:   hostStderr,
	}, nil
}

func (e *Engine) startHost(ctx context.Context, name, image, tokens string) (string, error) {
	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image: image,
		Env:   []string{"TOKENS=" + tokens},
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			NanoCPUs: e.resources.GameHostNanoCPUs,
			Memory:   e.resources.GameHostMemBytes,
		},
	}, nil, name)
	if err != nil {
		return "", err
	}
	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *Engine) startAgent(ctx context.Context, s *slot, names objectNames, hostID, hostName string) error {
	resp, err := e.docker.ContainerCreate(ctx, &container.Config{
		Image: s.image,
		Env: []string{
			"TOKEN=" + s.token,
			fmt.Sprintf("GAME_HOST=ws://%s:%s", hostName, gameHostPort),
		},
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			NanoCPUs: e.resources.AgentNanoCPUs,
			Memory:   e.resources.AgentMemBytes,
		},
	}, nil, names.agents[s.index])
	if err != nil {
		return err
	}
	if err := e.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return err
	}
	s.containerID = resp.ID
	s.started = true

	netResp, err := e.docker.NetworkCreate(ctx, names.nets[s.index], network.CreateOptions{})
	if err != nil {
		return fmt.Errorf("create network: %w", err)
	}
	s.networkID = netResp.ID

	if err := e.docker.NetworkConnect(ctx, netResp.ID, hostID, nil); err != nil {
		return fmt.Errorf("connect host to network: %w", err)
	}
	if err := e.docker.NetworkConnect(ctx, netResp.ID, resp.ID, nil); err != nil {
		return fmt.Errorf("connect agent to network: %w", err)
	}
	return nil
}

// waitForHost blocks until the host container exits or the judge timeout
// elapses, whichever comes first.
func (e *Engine) waitForHost(ctx context.Context, hostID string) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
	defer cancel()

	statusCh, errCh := e.docker.ContainerWait(waitCtx, hostID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("wait for game host: %w", err)
		}
		return nil
	case <-statusCh:
		return nil
	case <-waitCtx.Done():
		return fmt.Errorf("game host did not exit within judge timeout: %w", waitCtx.Err())
	}
}

// stopOrCollectExit implements step 4: if the agent is still running, stop
// it and treat its exit code as 0; otherwise collect its real exit code.
func (e *Engine) stopOrCollectExit(ctx context.Context, containerID string) int {
	info, err := e.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0
	}
	if info.State != nil && info.State.Running {
		_ = e.docker.ContainerStop(ctx, containerID, container.StopOptions{Timeout: intPtr(0)})
		return 0
	}
	if info.State != nil {
		return info.State.ExitCode
	}
	return 0
}

// harvest implements step 5: extract /app/data/ from the host container,
// decoding result.json and returning the replay bytes.
func (e *Engine) harvest(ctx context.Context, hostID string) (map[string]float64, []byte, error) {
	rc, _, err := e.docker.CopyFromContainer(ctx, hostID, "/app/data/")
	if err != nil {
		// Missing directory: treat as empty scores and empty replay.
		return map[string]float64{}, []byte{}, nil
	}
	defer rc.Close()

	scores := map[string]float64{}
	var replay []byte

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read host data archive: %w", err)
		}

		switch filepath.Base(hdr.Name) {
		case "result.json":
			var payload struct {
				Scores map[string]float64 `json:"scores"`
			}
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read result.json: %w", err)
			}
			if err := json.Unmarshal(data, &payload); err == nil {
				scores = payload.Scores
			}
		case "replay.dat":
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read replay.dat: %w", err)
			}
			replay = data
		}
	}

	if scores == nil {
		scores = map[string]float64{}
	}
	if replay == nil {
		replay = []byte{}
	}
	return scores, replay, nil
}

func (e *Engine) containerStderr(containerID string) string {
	if containerID == "" {
		return ""
	}
	rc, err := e.docker.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStderr: true})
	if err != nil {
		return ""
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ""
	}
	return string(data)
}

// cleanup is the unified, always-run compensating cleanup from spec.md
// §4.3: every name this call could have created is torn down, tolerant of
// "not found" errors, which are expected on most paths.
func (e *Engine) cleanup(names objectNames) {
	ctx := context.Background()

	stopRemove := func(name string) {
		if name == "" {
			return
		}
		if err := e.docker.ContainerStop(ctx, name, container.StopOptions{Timeout: intPtr(0)}); err != nil {
			slog.Debug("cleanup: stop container", "name", name, "error", err)
		}
		if err := e.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			slog.Debug("cleanup: remove container", "name", name, "error", err)
		}
	}

	stopRemove(names.host)
	for _, name := range names.agents {
		stopRemove(name)
	}
	for _, name := range names.nets {
		if name == "" {
			continue
		}
		if err := e.docker.NetworkRemove(ctx, name); err != nil {
			slog.Debug("cleanup: remove network", "name", name, "error", err)
		}
	}
}

func (e *Engine) persist(matchID string, result model.MatchResult) error {
	if err := os.MkdirAll(e.layout.MatchResultDir(), 0o755); err != nil {
		return fmt.Errorf("create match result dir: %w", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}
	return os.WriteFile(e.layout.MatchResultPath(matchID), data, 0o644)
}

func (e *Engine) loadPersisted(matchID string) (model.MatchResult, bool) {
	replayPath := e.layout.MatchReplayPath(matchID)
	resultPath := e.layout.MatchResultPath(matchID)

	if _, err := os.Stat(replayPath); err != nil {
		return model.MatchResult{}, false
	}
	data, err := os.ReadFile(resultPath)
	if err != nil {
		return model.MatchResult{}, false
	}

	var result model.MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return model.MatchResult{}, false
	}
	return result, true
}

// List enumerates persisted match replays by match_id, for operational
// introspection (spec.md §9's "list" management surface, supplemented from
// original_source/'s thuai_* lineage).
func (e *Engine) List(ctx context.Context) (map[string]string, error) {
	entries, err := os.ReadDir(e.layout.MatchReplayDir())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("list match replay dir: %w", err)
	}

	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".dat" {
			continue
		}
		matchID := strings.TrimSuffix(entry.Name(), ".dat")
		out[matchID] = e.layout.MatchReplayPath(matchID)
	}
	return out, nil
}

func intPtr(v int) *int { return &v }
