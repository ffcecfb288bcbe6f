// Package reporter implements the two HTTP result reporters the coordinator
// expects (spec.md §6): build results PUT to /judger/codes/{code_id}/, and
// match results PUT as multipart form data to /judger/matches/{match_id}/.
//
// Grounded on original_source/saiblo_worker/build_result_reporter.go and
// original_source/thuai_reporter.py (for the states=[{position,status,code,
// stderr}] multipart shape), translated from aiohttp to net/http +
// mime/multipart.
package reporter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/saiblo/judge-worker/pkg/model"
)

const replayFileNamePrefix = "saiblo-worker-replay"

// BuildResultReporter reports BuildResults to the coordinator.
type BuildResultReporter struct {
	client  *http.Client
	baseURL string
}

// NewBuildResultReporter builds a BuildResultReporter against baseURL.
func NewBuildResultReporter(client *http.Client, baseURL string) *BuildResultReporter {
	return &BuildResultReporter{client: client, baseURL: baseURL}
}

type compileReportPayload struct {
	CompileStatus  string `json:"compile_status"`
	CompileMessage string `json:"compile_message"`
}

// Report PUTs the compile outcome for result.CodeID.
func (r *BuildResultReporter) Report(ctx context.Context, result model.BuildResult) error {
	slog.Debug("reporting build result", "code_id", result.CodeID)

	status := "编译成功"
	if !result.Succeeded() {
		status = "编译失败"
	}

	body, err := json.Marshal(compileReportPayload{CompileStatus: status, CompileMessage: result.Message})
	if err != nil {
		return fmt.Errorf("marshal build result: %w", err)
	}

	url := fmt.Sprintf("%s/judger/codes/%s/", r.baseURL, result.CodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("report build result for %s: %w", result.CodeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report build result for %s: unexpected status %s", result.CodeID, resp.Status)
	}

	slog.Info("build result reported", "code_id", result.CodeID)
	return nil
}

// MatchResultReporter reports MatchResults to the coordinator.
type MatchResultReporter struct {
	client  *http.Client
	baseURL string
}

// NewMatchResultReporter builds a MatchResultReporter against baseURL.
func NewMatchResultReporter(client *http.Client, baseURL string) *MatchResultReporter {
	return &MatchResultReporter{client: client, baseURL: baseURL}
}

type agentState struct {
	Position int    `json:"position"`
	Status   string `json:"status"`
	Code     int    `json:"code"`
	Stderr   string `json:"stderr"`
}

// Report PUTs the match outcome as multipart form data.
func (r *MatchResultReporter) Report(ctx context.Context, result model.MatchResult) error {
	slog.Debug("reporting match result", "match_id", result.MatchID)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	state := "评测成功"
	if !result.Succeeded() {
		state = "评测失败"
	}
	if err := mw.WriteField("state", state); err != nil {
		return fmt.Errorf("write state field: %w", err)
	}

	states := make([]agentState, len(result.AgentResults))
	for i, a := range result.AgentResults {
		states[i] = agentState{
			Position: i,
			Status:   string(a.Status),
			Code:     a.ExitCode,
			Stderr:   base64.StdEncoding.EncodeToString([]byte(a.Stderr)),
		}
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("marshal states: %w", err)
	}
	if err := mw.WriteField("states", string(statesJSON)); err != nil {
		return fmt.Errorf("write states field: %w", err)
	}

	replayFileName := fmt.Sprintf("%s-%s.dat", replayFileNamePrefix, result.MatchID)

	var replayBytes []byte
	if result.Succeeded() {
		scores := make([]float64, len(result.AgentResults))
		for i, a := range result.AgentResults {
			scores[i] = a.Score
		}
		scoresJSON, err := json.Marshal(scores)
		if err != nil {
			return fmt.Errorf("marshal scores: %w", err)
		}
		if err := mw.WriteField("scores", string(scoresJSON)); err != nil {
			return fmt.Errorf("write scores field: %w", err)
		}

		replayBytes, err = os.ReadFile(result.ReplayPath)
		if err != nil {
			return fmt.Errorf("read replay file: %w", err)
		}
	} else {
		if err := mw.WriteField("err", base64.StdEncoding.EncodeToString([]byte(result.HostStderr))); err != nil {
			return fmt.Errorf("write err field: %w", err)
		}
		if err := mw.WriteField("error", result.ErrorMessage); err != nil {
			return fmt.Errorf("write error field: %w", err)
		}
	}

	fw, err := mw.CreateFormFile("file", replayFileName)
	if err != nil {
		return fmt.Errorf("create replay form file: %w", err)
	}
	if _, err := fw.Write(replayBytes); err != nil {
		return fmt.Errorf("write replay bytes: %w", err)
	}

	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/judger/matches/%s/", r.baseURL, result.MatchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, &buf)
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("report match result for %s: %w", result.MatchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report match result for %s: unexpected status %s", result.MatchID, resp.Status)
	}

	slog.Info("match result reported", "match_id", result.MatchID)
	return nil
}
