// Package guardian implements the guardian command line.
package guardian

import (
	"errors"
	"fmt"
	"os"

	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/internal/dbt"
	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// errTestsFailing is returned when tests still fail at the end of a command,
// so the process exits non-zero.
var errTestsFailing = errors.New("tests failing")

type app struct {
	configPath string
	verbose    bool
	jsonOutput bool
	logger     *zap.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "guardian",
		Short: "Seed, build, test and self-heal a dbt project",
		Long: `Guardian drives a dbt project through deps, seed, run and test.

When tests fail it reads target/run_results.json, classifies the failures
and rewrites the PATCH_AREA region of the staging model with a cleaning
fragment, then rebuilds and retests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initLogger()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", config.DefaultFile, "Path to guardian.yaml")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Stream command output and debug logs")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output result as JSON")

	root.AddCommand(a.newRunCmd())
	for _, sc := range stageCommands {
		root.AddCommand(a.newStageCmd(sc))
	}
	root.AddCommand(a.newDiagnoseCmd())
	root.AddCommand(a.newPatchCmd())
	root.AddCommand(a.newServeCmd())
	root.AddCommand(a.newWatchCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) initLogger() error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if a.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a.logger.Debug("config loaded",
		zap.String("path", a.configPath),
		zap.String("project_dir", cfg.ProjectDir),
		zap.String("results_path", cfg.ResultsPath),
		zap.String("patch_target", cfg.PatchTarget))
	return cfg, nil
}

func (a *app) newGuardian(cfg *config.Config, emitter progress.Emitter) (*pipeline.Guardian, error) {
	runner, err := dbt.FromConfig(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return pipeline.FromConfig(cfg, runner, emitter, a.logger)
}
