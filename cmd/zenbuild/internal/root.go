package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zenwm/zenbuild/internal/config"
	"github.com/zenwm/zenbuild/internal/logx"
	"github.com/zenwm/zenbuild/internal/pipeline"
	"github.com/zenwm/zenbuild/internal/runner"
)

type options struct {
	intents config.Intents
	root    string
	file    string
	debug   bool
}

// newRunner creates the runner used for external tools.
var newRunner = func(logger *slog.Logger) runner.Runner {
	return runner.New(logger)
}

// NewRootCommand returns the zenbuild command. Logs go to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "zenbuild [-U] [-C] [-B] [-R] [-I]",
		Short: "zenbuild prepares and builds the zen compositor",
		Long: `zenbuild vendors zen's third-party dependencies, builds the ones that need
a native compile step, generates Wayland protocol bindings and drives CMake.

Without flags it only prepares dependencies and bindings. -B builds,
-I builds and installs into ~/.local/bin and ~/.config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &opts, out)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.Flags()
	opts.intents.BindFlags(flags)
	flags.StringVar(&opts.root, "root", ".", "project root")
	flags.StringVar(&opts.file, "config", "", "project file (default <root>/"+config.FileName+" when present)")
	flags.BoolVar(&opts.debug, "debug", false, "set log level to debug")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	level := logx.LevelInfo
	if opts.debug {
		level = logx.LevelDebug
	}
	logger := logx.New(out, level)

	cfg, err := config.Load(opts.root, opts.file, opts.intents)
	if err != nil {
		return err
	}
	logger.Debug("configuration loaded", "root", cfg.Root, "build_type", cfg.Intents.BuildType())

	report, err := pipeline.New(cfg, newRunner(logger), logger).Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("done", "ran", len(report.Ran), "skipped", len(report.Skipped))
	return nil
}

// Execute runs the root command and exits with status 1 on failure.
// SIGINT and SIGTERM cancel the running step.
func Execute() {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		Fatal(err)
	}
}
