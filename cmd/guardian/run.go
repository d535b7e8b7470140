package guardian

import (
	"fmt"

	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/pkg/models"
	"github.com/spf13/cobra"
)

type stageCommand struct {
	use   string
	stage models.Stage
	short string
}

var stageCommands = []stageCommand{
	{use: "deps", stage: models.StageDeps, short: "Install package dependencies"},
	{use: "seed", stage: models.StageSeed, short: "Load seed CSV files with a full refresh"},
	{use: "build", stage: models.StageRun, short: "Build the models"},
	{use: "test", stage: models.StageTest, short: "Run the data tests"},
}

func (a *app) newRunCmd() *cobra.Command {
	var attempts int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full seed, build, test and patch loop",
		Long: `Runs deps, seed, run and test. If tests fail, diagnoses the results,
patches the staging model and rebuilds and retests, up to --max-attempts times.

Exits non-zero if tests still fail at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-attempts") {
				if attempts < 1 || attempts > config.MaxPatchAttemptsLimit {
					return fmt.Errorf("--max-attempts must be between 1 and %d", config.MaxPatchAttemptsLimit)
				}
				cfg.MaxPatchAttempts = attempts
			}

			emitter := progress.NewTextEmitter(cmd.ErrOrStderr(), a.verbose)
			g, err := a.newGuardian(cfg, emitter)
			if err != nil {
				return err
			}

			report, err := g.Run(cmd.Context())
			emitter.Close()

			if a.jsonOutput {
				if encErr := printJSON(cmd.OutOrStdout(), report); encErr != nil {
					return encErr
				}
			} else {
				printReport(cmd.ErrOrStderr(), cmd.OutOrStdout(), report)
			}

			if err != nil {
				return err
			}
			if !report.FinalPassed {
				return errTestsFailing
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&attempts, "max-attempts", 1, "Patch attempts before giving up")
	return cmd
}

func (a *app) newStageCmd(sc stageCommand) *cobra.Command {
	return &cobra.Command{
		Use:   sc.use,
		Short: sc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			emitter := progress.NewTextEmitter(cmd.ErrOrStderr(), a.verbose)
			g, err := a.newGuardian(cfg, emitter)
			if err != nil {
				return err
			}

			var res *models.StageResult
			err = g.Exclusive(func() error {
				var runErr error
				res, runErr = g.RunStage(cmd.Context(), sc.stage)
				return runErr
			})
			emitter.Close()
			if err != nil {
				return fmt.Errorf("failed to run %s: %w", sc.stage, err)
			}

			if a.jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			if !res.Passed() {
				return fmt.Errorf("%w: %s exited %d", pipeline.ErrStageFailed, sc.stage, res.ExitCode)
			}
			return nil
		},
	}
}
