// Package root wires the worker's cobra command tree together: a "run"
// subcommand that drives the whole process, plus "list" and "version".
//
// Grounded on vvoland-cagent's cmd/root/root.go: the
// PersistentPreRunE-based logging setup (rotating file under --debug,
// otherwise discarded) and the SilenceErrors/SilenceUsage cobra shape are
// carried over verbatim in style, generalized from cagent's TUI-oriented
// flags to this worker's always-headless operation.
package root

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/saiblo/judge-worker/pkg/logging"
	"github.com/saiblo/judge-worker/pkg/version"
)

type rootFlags struct {
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

// NewRootCmd builds the top-level "saiblo-worker" command.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "saiblo-worker",
		Short: "saiblo-worker - a judge worker for the saiblo coordinator",
		Long:  "saiblo-worker joins a saiblo coordinator over a websocket control channel and runs build and judge tasks using the local Docker daemon.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.setupLogging(); err != nil {
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
					Level: func() slog.Level {
						if flags.debugMode {
							return slog.LevelDebug
						}
						return slog.LevelInfo
					}(),
				})))
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("failed to close log file", "error", err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: data/saiblo-worker.debug.log; only used with --debug)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// setupLogging configures slog. When --debug is off, logs are discarded
// (matching the worker's intended unattended operation); when on, they go
// to a rotating file so a long-running worker never fills the disk.
func (f *rootFlags) setupLogging() error {
	if !f.debugMode {
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return nil
	}

	path := f.logFilePath
	if path == "" {
		path = "data/saiblo-worker.debug.log"
	}

	logFile, err := logging.NewRotatingFile(path)
	if err != nil {
		return err
	}
	f.logFile = logFile

	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})))

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
			return nil
		},
	}
}
