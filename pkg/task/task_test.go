package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiblo/judge-worker/pkg/model"
)

type fakeFetcher struct {
	pathsByCodeID map[string]string
	err           error
}

func (f *fakeFetcher) Fetch(ctx context.Context, codeID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pathsByCodeID[codeID], nil
}

type fakeBuilder struct {
	cached     map[string]string
	listErr    error
	buildCalls []string
	buildFn    func(codeID string) model.BuildResult
}

func (b *fakeBuilder) Build(ctx context.Context, codeID, tarballPath string) model.BuildResult {
	b.buildCalls = append(b.buildCalls, codeID)
	if b.buildFn != nil {
		return b.buildFn(codeID)
	}
	return model.BuildResult{CodeID: codeID, Image: "repo:" + codeID}
}

func (b *fakeBuilder) List(ctx context.Context) (map[string]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.cached, nil
}

type fakeBuildReporter struct {
	reported []model.BuildResult
}

func (r *fakeBuildReporter) Report(ctx context.Context, result model.BuildResult) error {
	r.reported = append(r.reported, result)
	return nil
}

type fakeJudger struct {
	judgeCalls  int
	lastImages  []string
	result      model.MatchResult
}

func (j *fakeJudger) Judge(ctx context.Context, matchID, gameHostImage string, agentImages []string) model.MatchResult {
	j.judgeCalls++
	j.lastImages = agentImages
	return j.result
}

func (j *fakeJudger) List(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

type fakeMatchReporter struct {
	reported []model.MatchResult
}

func (r *fakeMatchReporter) Report(ctx context.Context, result model.MatchResult) error {
	r.reported = append(r.reported, result)
	return nil
}

func TestBuildTask_Execute_Success(t *testing.T) {
	fetcher := &fakeFetcher{pathsByCodeID: map[string]string{"C": "/tmp/C.tar"}}
	builder := &fakeBuilder{}
	reporter := &fakeBuildReporter{}

	bt := NewBuildTask("C", fetcher, builder, reporter)
	bt.Execute()

	result := bt.Result()
	require.True(t, result.Succeeded())
	assert.Equal(t, "repo:C", result.Image)
	assert.Len(t, reporter.reported, 1)
}

func TestBuildTask_Execute_FetchFailureReportsMessage(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network down")}
	builder := &fakeBuilder{}
	reporter := &fakeBuildReporter{}

	bt := NewBuildTask("C", fetcher, builder, reporter)
	bt.Execute()

	result := bt.Result()
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Message, "network down")
	assert.Len(t, reporter.reported, 1)
}

func TestJudgeTask_Execute_ReusesCachedImages(t *testing.T) {
	fetcher := &fakeFetcher{pathsByCodeID: map[string]string{"B": "/tmp/B.tar"}}
	builder := &fakeBuilder{cached: map[string]string{"A": "repo:A"}}
	buildReporter := &fakeBuildReporter{}
	judger := &fakeJudger{result: model.MatchResult{MatchID: "M", ReplayPath: "replay"}}
	matchReporter := &fakeMatchReporter{}

	jt := NewJudgeTask("M", "host-image", []string{"A", "B", ""}, fetcher, builder, buildReporter, judger, matchReporter)
	jt.Execute()

	assert.Equal(t, []string{"B"}, builder.buildCalls, "cached code_id A must not be rebuilt")
	assert.Equal(t, []string{"repo:A", "repo:B", ""}, judger.lastImages)
	assert.Equal(t, 1, judger.judgeCalls)
	assert.Len(t, matchReporter.reported, 1)
	assert.Equal(t, "M", jt.MatchID())
}

func TestJudgeTask_Execute_FailedAgentBuildYieldsEmptyImage(t *testing.T) {
	fetcher := &fakeFetcher{pathsByCodeID: map[string]string{"A": "/tmp/A.tar"}}
	builder := &fakeBuilder{
		buildFn: func(codeID string) model.BuildResult {
			return model.BuildResult{CodeID: codeID, Message: "bad dockerfile"}
		},
	}
	buildReporter := &fakeBuildReporter{}
	judger := &fakeJudger{result: model.MatchResult{MatchID: "M", ReplayPath: "replay"}}
	matchReporter := &fakeMatchReporter{}

	jt := NewJudgeTask("M", "host-image", []string{"A"}, fetcher, builder, buildReporter, judger, matchReporter)
	jt.Execute()

	assert.Equal(t, []string{""}, judger.lastImages, "a failed build must surface as an empty image, matching a None slot")
}

func TestJudgeTask_Execute_ListFailureProducesUEResult(t *testing.T) {
	builder := &fakeBuilder{listErr: errors.New("docker daemon unreachable")}
	judger := &fakeJudger{}
	matchReporter := &fakeMatchReporter{}

	jt := NewJudgeTask("M", "host-image", []string{"A", "B"}, &fakeFetcher{}, builder, &fakeBuildReporter{}, judger, matchReporter)
	jt.Execute()

	result := jt.Result()
	assert.False(t, result.Succeeded())
	require.Len(t, result.AgentResults, 2)
	assert.Equal(t, model.StatusUE, result.AgentResults[0].Status)
	assert.Equal(t, 0, judger.judgeCalls)
}

func TestBuildTaskFactory_Create(t *testing.T) {
	f := &BuildTaskFactory{Fetcher: &fakeFetcher{}, Builder: &fakeBuilder{}, Reporter: &fakeBuildReporter{}}
	bt := f.Create("C")
	assert.Equal(t, "BuildTask(code_id=C)", bt.String())
}

func TestJudgeTaskFactory_Create(t *testing.T) {
	f := &JudgeTaskFactory{
		GameHostImage:       "host-image",
		Fetcher:             &fakeFetcher{},
		Builder:             &fakeBuilder{},
		BuildResultReporter: &fakeBuildReporter{},
		Judger:              &fakeJudger{},
		MatchResultReporter: &fakeMatchReporter{},
	}
	jt := f.Create("M", []string{"A"})
	assert.Equal(t, "M", jt.MatchID())
	assert.Equal(t, "JudgeTask(match_id=M)", jt.String())
}
