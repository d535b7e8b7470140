package guardian

import (
	"fmt"

	"github.com/kamilpajak/guardian/internal/patch"
	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/kamilpajak/guardian/pkg/models"
	"github.com/spf13/cobra"
)

func (a *app) newDiagnoseCmd() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Classify failures in the latest run_results.json",
		Long: `Reads the test results artifact and reports the root cause of failing
tests. With --apply, writes the suggested fragment into the staging model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			emitter := progress.NewTextEmitter(cmd.ErrOrStderr(), a.verbose)
			defer emitter.Close()
			g, err := a.newGuardian(cfg, progress.EmitterFunc(func(ev progress.Event) {
				// The summary is printed below; only warnings go to the emitter.
				if ev.Type == progress.EventWarn {
					emitter.Emit(ev)
				}
			}))
			if err != nil {
				return err
			}

			d, err := g.Diagnose()
			if err != nil {
				return err
			}

			var outcome *models.PatchOutcome
			if apply && d.HasFailures() {
				outcome, err = g.ApplyPatch(d.Categories)
				if err != nil {
					return err
				}
			}

			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), struct {
					*models.Diagnosis
					RootCause string               `json:"root_cause"`
					Patch     *models.PatchOutcome `json:"patch,omitempty"`
				}{d, d.RootCause(), outcome})
			}

			printDiagnosis(cmd.ErrOrStderr(), cmd.OutOrStdout(), d)
			if outcome != nil {
				printPatch(cmd.ErrOrStderr(), outcome)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Write the suggested fragment into the patch target")
	return cmd
}

func (a *app) newPatchCmd() *cobra.Command {
	var (
		categories []string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "patch",
		Short: "Rewrite the PATCH_AREA region of the staging model",
		Long: `Writes a cleaning fragment between the PATCH_AREA markers of the patch
target. Without --category the fragment covers every known issue:

  duplicate-key       keep the latest order_date per order_id
  null-value          drop rows with a NULL amount
  out-of-range-date   drop rows with an order_date in the future`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := models.NewIssueSet()
			for _, name := range categories {
				c, ok := models.ParseIssueCategory(name)
				if !ok {
					return fmt.Errorf("unknown category %q", name)
				}
				set.Add(c)
			}

			fragment := patch.Build(set)
			if dryRun {
				fmt.Fprintln(cmd.OutOrStdout(), patch.Block(fragment))
				return nil
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			g, err := a.newGuardian(cfg, nil)
			if err != nil {
				return err
			}

			var outcome *models.PatchOutcome
			err = g.Exclusive(func() error {
				var patchErr error
				outcome, patchErr = g.ApplyPatch(set)
				return patchErr
			})
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), outcome)
			}
			printPatch(cmd.ErrOrStderr(), outcome)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&categories, "category", nil, "Issue category to fix (repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the region instead of writing it")
	return cmd
}
