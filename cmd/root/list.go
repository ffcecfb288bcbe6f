package root

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/saiblo/judge-worker/pkg/artifact"
	"github.com/saiblo/judge-worker/pkg/build"
	"github.com/saiblo/judge-worker/pkg/config"
	"github.com/saiblo/judge-worker/pkg/dockerapi"
	"github.com/saiblo/judge-worker/pkg/httpclient"
	"github.com/saiblo/judge-worker/pkg/judge"
	"github.com/saiblo/judge-worker/pkg/paths"
)

// newListCmd builds the operational-introspection "list" subcommand
// (spec.md §9's supplemented management surface: Fetcher.List,
// Builder.List, Judger.List), grounded on cmd/root's many list-ish
// subcommands in the teacher.
func newListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached agent code, built images, and judged matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the worker's configuration file")

	return cmd
}

func runList(ctx context.Context, out io.Writer, configPath string) error {
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

	tarballs, err := fetcher.List()
	if err != nil {
		return fmt.Errorf("list cached agent code: %w", err)
	}
	printEntries(out, "Cached agent code (code_id -> tarball)", tarballs)

	images, err := builder.List(ctx)
	if err != nil {
		return fmt.Errorf("list built images: %w", err)
	}
	printEntries(out, "Built images (code_id -> tag)", images)

	replays, err := judger.List(ctx)
	if err != nil {
		return fmt.Errorf("list judged matches: %w", err)
	}
	printEntries(out, "Judged matches (match_id -> replay)", replays)

	return nil
}

func printEntries(out io.Writer, title string, entries map[string]string) {
	fmt.Fprintf(out, "%s:\n", title)

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, k := range keys {
		fmt.Fprintf(out, "  %s -> %s\n", k, entries[k])
	}
}
