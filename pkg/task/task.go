// Package task implements the closed Task sum type (spec.md §9 design
// note: "two variants, closed set"): BuildTask and JudgeTask, each of which
// fetches/builds/judges once and caches its result.
//
// Grounded on original_source/saiblo_worker/build_task.py and
// original_source/saiblo_worker/judge_task.py, including their factory
// types for binding the shared collaborators (fetcher, builder, reporters,
// judger) once at session construction time.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/saiblo/judge-worker/pkg/model"
)

// Fetcher fetches agent source tarballs by code_id.
type Fetcher interface {
	Fetch(ctx context.Context, codeID string) (string, error)
}

// Builder builds agent images and knows which code_ids are already built.
type Builder interface {
	Build(ctx context.Context, codeID, tarballPath string) model.BuildResult
	List(ctx context.Context) (map[string]string, error)
}

// BuildResultReporter reports a BuildResult to the coordinator.
type BuildResultReporter interface {
	Report(ctx context.Context, result model.BuildResult) error
}

// Judger runs a match and knows which match_ids have already been judged.
type Judger interface {
	Judge(ctx context.Context, matchID, gameHostImage string, agentImages []string) model.MatchResult
	List(ctx context.Context) (map[string]string, error)
}

// MatchResultReporter reports a MatchResult to the coordinator.
type MatchResultReporter interface {
	Report(ctx context.Context, result model.MatchResult) error
}

// BuildTask builds a single agent code submission and reports the outcome.
type BuildTask struct {
	codeID   string
	fetcher  Fetcher
	builder  Builder
	reporter BuildResultReporter

	mu     sync.Mutex
	result model.BuildResult
}

// NewBuildTask builds a BuildTask for codeID, bound to the given
// collaborators.
func NewBuildTask(codeID string, fetcher Fetcher, builder Builder, reporter BuildResultReporter) *BuildTask {
	return &BuildTask{codeID: codeID, fetcher: fetcher, builder: builder, reporter: reporter}
}

func (t *BuildTask) String() string {
	return fmt.Sprintf("BuildTask(code_id=%s)", t.codeID)
}

// Execute fetches, builds, and reports the result; it caches the result for
// Result(). It never propagates an error to the caller — every failure is
// folded into the BuildResult's Message, per spec.md §4.2/§7.
func (t *BuildTask) Execute() {
	result := t.run(context.Background())

	t.mu.Lock()
	t.result = result
	t.mu.Unlock()

	if err := t.reporter.Report(context.Background(), result); err != nil {
		slog.Error("failed to report build result", "code_id", t.codeID, "error", err)
	}
}

func (t *BuildTask) run(ctx context.Context) model.BuildResult {
	tarballPath, err := t.fetcher.Fetch(ctx, t.codeID)
	if err != nil {
		slog.Error("failed to fetch agent code", "code_id", t.codeID, "error", err)
		return model.BuildResult{CodeID: t.codeID, Message: err.Error()}
	}

	return t.builder.Build(ctx, t.codeID, tarballPath)
}

// Result returns the last execution's result, or the zero value if Execute
// has not yet run.
func (t *BuildTask) Result() model.BuildResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// BuildTaskFactory binds the shared collaborators once so the coordinator
// session can mint BuildTasks per compilation_task frame.
type BuildTaskFactory struct {
	Fetcher  Fetcher
	Builder  Builder
	Reporter BuildResultReporter
}

// Create builds a new BuildTask for codeID.
func (f *BuildTaskFactory) Create(codeID string) *BuildTask {
	return NewBuildTask(codeID, f.Fetcher, f.Builder, f.Reporter)
}

// JudgeTask builds (or reuses) every participating agent's image, then
// judges the match and reports the outcome.
type JudgeTask struct {
	matchID             string
	gameHostImage       string
	agentCodeIDs        []string // empty string marks an empty slot
	fetcher             Fetcher
	builder             Builder
	buildResultReporter BuildResultReporter
	judger              Judger
	matchResultReporter MatchResultReporter

	mu     sync.Mutex
	result model.MatchResult
}

// NewJudgeTask builds a JudgeTask for matchID, bound to the given
// collaborators. An empty string in agentCodeIDs marks a slot with no
// agent (spec.md's "None" slot).
func NewJudgeTask(
	matchID, gameHostImage string,
	agentCodeIDs []string,
	fetcher Fetcher,
	builder Builder,
	buildResultReporter BuildResultReporter,
	judger Judger,
	matchResultReporter MatchResultReporter,
) *JudgeTask {
	return &JudgeTask{
		matchID:             matchID,
		gameHostImage:       gameHostImage,
		agentCodeIDs:        agentCodeIDs,
		fetcher:             fetcher,
		builder:             builder,
		buildResultReporter: buildResultReporter,
		judger:              judger,
		matchResultReporter: matchResultReporter,
	}
}

func (t *JudgeTask) String() string {
	return fmt.Sprintf("JudgeTask(match_id=%s)", t.matchID)
}

// MatchID is the ID of the match this task judges.
func (t *JudgeTask) MatchID() string {
	return t.matchID
}

// Execute builds every participating agent (reusing already-built images),
// judges the match, reports the outcome, and caches the result.
func (t *JudgeTask) Execute() {
	result := t.run(context.Background())

	t.mu.Lock()
	t.result = result
	t.mu.Unlock()

	if err := t.matchResultReporter.Report(context.Background(), result); err != nil {
		slog.Error("failed to report match result", "match_id", t.matchID, "error", err)
	}
}

func (t *JudgeTask) run(ctx context.Context) model.MatchResult {
	cached, err := t.builder.List(ctx)
	if err != nil {
		slog.Error("failed to list cached images", "match_id", t.matchID, "error", err)
		return model.FailedMatchResult(t.matchID, len(t.agentCodeIDs), err, "")
	}

	agentImages := make([]string, len(t.agentCodeIDs))
	for i, codeID := range t.agentCodeIDs {
		if codeID == "" {
			continue
		}

		if tag, ok := cached[codeID]; ok {
			agentImages[i] = tag
			continue
		}

		build := NewBuildTask(codeID, t.fetcher, t.builder, t.buildResultReporter)
		build.Execute()
		agentImages[i] = build.Result().Image
	}

	return t.judger.Judge(ctx, t.matchID, t.gameHostImage, agentImages)
}

// Result returns the last execution's result, or the zero value if Execute
// has not yet run.
func (t *JudgeTask) Result() model.MatchResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// JudgeTaskFactory binds the shared collaborators once so the coordinator
// session can mint JudgeTasks per judge_task frame.
type JudgeTaskFactory struct {
	GameHostImage       string
	Fetcher             Fetcher
	Builder             Builder
	BuildResultReporter BuildResultReporter
	Judger              Judger
	MatchResultReporter MatchResultReporter
}

// Create builds a new JudgeTask for matchID with the given agent code_ids.
func (f *JudgeTaskFactory) Create(matchID string, agentCodeIDs []string) *JudgeTask {
	return NewJudgeTask(
		matchID,
		f.GameHostImage,
		agentCodeIDs,
		f.Fetcher,
		f.Builder,
		f.BuildResultReporter,
		f.Judger,
		f.MatchResultReporter,
	)
}
