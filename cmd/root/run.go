package root

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/saiblo/judge-worker/pkg/artifact"
	"github.com/saiblo/judge-worker/pkg/build"
	"github.com/saiblo/judge-worker/pkg/config"
	"github.com/saiblo/judge-worker/pkg/coordinator"
	"github.com/saiblo/judge-worker/pkg/dockerapi"
	"github.com/saiblo/judge-worker/pkg/httpclient"
	"github.com/saiblo/judge-worker/pkg/judge"
	"github.com/saiblo/judge-worker/pkg/paths"
	"github.com/saiblo/judge-worker/pkg/reporter"
	"github.com/saiblo/judge-worker/pkg/scheduler"
	"github.com/saiblo/judge-worker/pkg/task"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the judge worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the worker's configuration file")

	return cmd
}

func runWorker(ctx context.Context, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	cfg, err := config.Load(data)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	layout := paths.NewLayout(cfg.DataDir)

	docker, err := dockerapi.NewFromEnv()
	if err != nil {
		return fmt.Errorf("connect to docker: %w", err)
	}

	httpClient := httpclient.NewHTTPClient()

	fetcher := artifact.NewHTTPFetcher(httpClient, cfg.HTTPBaseURL, layout)
	builder := build.New(docker, cfg.ImageRepo, cfg.BuildTimeoutDuration())
	judger := judge.New(docker, layout, judge.Resources{
		AgentNanoCPUs:    cfg.AgentNanoCPUs(),
		AgentMemBytes:    cfg.AgentMemLimitBytes(),
		GameHostNanoCPUs: cfg.GameHostNanoCPUs(),
		GameHostMemBytes: cfg.GameHostMemLimitBytes(),
	}, cfg.JudgeTimeoutDuration())

	buildReporter := reporter.NewBuildResultReporter(httpClient, cfg.HTTPBaseURL)
	matchReporter := reporter.NewMatchResultReporter(httpClient, cfg.HTTPBaseURL)

	sched := scheduler.New()

	buildTaskFactory := &task.BuildTaskFactory{
		Fetcher:  fetcher,
		Builder:  builder,
		Reporter: buildReporter,
	}
	judgeTaskFactory := &task.JudgeTaskFactory{
		GameHostImage:       cfg.GameHostImage,
		Fetcher:             fetcher,
		Builder:             builder,
		BuildResultReporter: buildReporter,
		Judger:              judger,
		MatchResultReporter: matchReporter,
	}

	session := coordinator.New(cfg.WebSocketURL, cfg.Name, sched, buildTaskFactory, judgeTaskFactory)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Start()
	session.Start(ctx)

	sched.Clean()

	return nil
}
