package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jguan/pipeline-console/pkg/infra/logger"
	"github.com/jguan/pipeline-console/pkg/infra/middleware"
)

const shutdownTimeout = 5 * time.Second

func NewMetricsServeCommand(root *RootCommand) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "metrics-serve",
		Short: "Reconcile pipelines in the background and expose Prometheus metrics",
		Long: `Poll the pipeline manager continuously and serve the console metrics
on /metrics. Status changes are recorded to the event history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.Config().Metrics.ListenAddr
			}
			return runMetricsServe(cmd.Context(), root, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: metrics.listen_addr)")

	return cmd
}

func newMetricsMux(app *App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := app.Reconciler.Last(); !ok {
			http.Error(w, "no successful poll yet", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func runMetricsServe(ctx context.Context, root *RootCommand, addr string) error {
	app, err := root.App()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(newMetricsMux(app), middleware.Recovery(logger.Default()), middleware.Logging(logger.Default())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Reconciler.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
