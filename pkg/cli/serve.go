package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/handlers"
	"github.com/ekaya-inc/ekaya-ask/pkg/mcp"
	"github.com/ekaya-inc/ekaya-ask/pkg/middleware"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(ctx, net.JoinHostPort(cfg.BindAddr, cfg.Port))
		},
	}
}

// routes assembles every inbound surface on one mux.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(a.cfg, a.healthChecks, a.logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(a.ask, a.logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(a.schemas, a.cfg.Datasource.DefaultSchema, a.logger).RegisterRoutes(mux)
	handlers.NewOntologyHandler(a.schemas, a.ontology, a.cfg.Datasource.DefaultSchema, a.cfg.Ontology.ExportFormat, a.logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", a.metrics.Handler())

	mcpServer := mcp.NewAskServer(a.cfg.Version, a.ask, a.logger)
	mux.Handle("/mcp", middleware.MCPRequestLogger(a.logger)(mcpServer.NewStreamableHTTPServer()))

	return middleware.RequestMetrics(a.metrics)(middleware.RequestLogger(a.logger)(mux))
}

// serve blocks until ctx is done, then drains in-flight requests.
func (a *app) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if a.history != nil {
		retention := services.NewRetentionService(a.history, a.schemas, a.cfg.Query.HistoryRetentionDays, a.logger)
		retention.RunScheduler(ctx, a.cfg.Query.HistoryPruneInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-ask",
			zap.String("addr", addr),
			zap.String("version", a.cfg.Version),
			zap.String("datasource", a.cfg.Datasource.Type),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
