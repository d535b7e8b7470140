package guardian

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/kamilpajak/guardian/internal/progress"
	"github.com/spf13/cobra"
)

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run the pipeline whenever seed CSV files change",
		Long: `Watches the seeds directory and runs the full loop after new or changed
CSV files settle for the configured debounce period. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			emitter := progress.NewTextEmitter(cmd.ErrOrStderr(), true)
			g, err := a.newGuardian(cfg, progress.EmitterFunc(func(ev progress.Event) {
				emitter.Emit(ev)
				if ev.Type == progress.EventDone && ev.Report != nil {
					printReport(cmd.ErrOrStderr(), cmd.OutOrStdout(), ev.Report)
				}
			}))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.newWatcher(cfg, g).Run(ctx)
		},
	}
}
