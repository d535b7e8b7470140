package guardian

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kamilpajak/guardian/internal/config"
	"github.com/kamilpajak/guardian/internal/pipeline"
	"github.com/kamilpajak/guardian/internal/seeds"
	"github.com/kamilpajak/guardian/internal/watch"
	"github.com/kamilpajak/guardian/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (a *app) newServeCmd() *cobra.Command {
	var (
		addr      string
		withWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web form",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			g, err := a.newGuardian(cfg, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := web.NewHandler(web.Config{
				Guardian:       g,
				Seeds:          seeds.NewStore(cfg.SeedsDir, cfg.Server.MaxUploadBytes),
				MaxUploadBytes: cfg.Server.MaxUploadBytes,
				Logger:         a.logger,
			})

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Guardian: http://%s\n", ln.Addr())

			var watcher *watch.Watcher
			if withWatch {
				watcher = a.newWatcher(cfg, g)
			}
			return serve(ctx, ln, handler, watcher, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Address to listen on (default from config)")
	cmd.Flags().BoolVar(&withWatch, "watch", false, "Re-run the pipeline when seed files change")
	return cmd
}

// serve runs the HTTP server, and the watcher if given, until ctx is done.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, watcher *watch.Watcher, logger *zap.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if watcher != nil {
		eg.Go(func() error {
			return watcher.Run(egCtx)
		})
	}

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) newWatcher(cfg *config.Config, g *pipeline.Guardian) *watch.Watcher {
	return watch.New(cfg.SeedsDir, cfg.Watch.Debounce, func(ctx context.Context, changed []string) error {
		err := g.Exclusive(func() error {
			_, err := g.Run(ctx)
			return err
		})
		if errors.Is(err, pipeline.ErrBusy) {
			a.logger.Warn("pipeline busy, skipping seed change", zap.Strings("files", changed))
			return nil
		}
		return err
	}, a.logger)
}
