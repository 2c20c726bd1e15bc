package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/campaignflow/cmd/campaignflow/internal/ui"
	"github.com/example/campaignflow/internal/config"
	"github.com/example/campaignflow/internal/endpoint"
	grpcTransport "github.com/example/campaignflow/internal/transport/grpc"
	"github.com/example/campaignflow/internal/transport/rest"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the checkpoint store over gRPC and HTTP",
	Long: `Serve binds the configured storage backend and exposes it through the
gRPC checkpoint service (primary transport) and the HTTP API (fallback
transport). The HTTP listener also serves the read-only runs and approvals
API. Prometheus metrics and pprof are served on the metrics address.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to drain in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The server is the storage owner; it never dials itself.
	cfg.Checkpoint.Mode = config.ModeLocal

	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	endpoints := endpoint.MakeEndpoints(a.backend.Checkpoints())
	grpcServer := grpcTransport.NewServer(endpoints,
		grpcTransport.WithLogger(logger.Named("grpc")),
		grpcTransport.WithMetrics(a.metrics),
		grpcTransport.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	)
	httpServer := rest.NewServer(endpoints,
		rest.WithLogger(logger.Named("http")),
		rest.WithMetrics(a.metrics),
		rest.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
		rest.WithRunReader(a.coordinator),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics)
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	metricsServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		grpcLis.Close()
		return err
	}
	metricsLis, err := net.Listen("tcp", cfg.Server.MetricsAddr)
	if err != nil {
		grpcLis.Close()
		httpLis.Close()
		return err
	}

	ui.PrintHeader("campaignflow")
	ui.PrintInfo("storage:  " + cfg.Storage.Backend)
	ui.PrintInfo("grpc:     " + grpcLis.Addr().String())
	ui.PrintInfo("http:     " + httpLis.Addr().String())
	ui.PrintInfo("metrics:  " + metricsLis.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return grpcServer.ServeListener(grpcLis) })
	g.Go(func() error { return httpServer.ServeListener(httpLis) })
	g.Go(func() error {
		if err := metricsServer.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := metricsServer.Shutdown(sctx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	ui.PrintSuccess("stopped")
	return nil
}
