package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stenstromen/wikiexport/config"
	"github.com/stenstromen/wikiexport/file"
	"github.com/stenstromen/wikiexport/logging"
	"github.com/stenstromen/wikiexport/metrics"
	"github.com/stenstromen/wikiexport/telemetry"
	"go.uber.org/zap"
)

type globalFlags struct {
	configPath  string
	debug       bool
	metricsAddr string
}

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "wikiexport",
		Short:         "wikiexport turns GitHub wikis into downloadable documents via an export server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a YAML config file.")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging.")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running.")

	root.AddCommand(newExportCmd(flags), newPruneCmd(flags))
	return root
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runtimeEnv struct {
	cfg    config.Config
	logger *zap.Logger
	sink   file.Sink
}

// setup loads config and builds the shared collaborators. The returned func
// must be called when the command is done.
func setup(ctx context.Context, flags *globalFlags) (*runtimeEnv, func(), error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, func() {}, err
	}
	if flags.debug {
		cfg.Debug = true
	}

	logger := logging.New(logging.Options{Debug: cfg.Debug, File: cfg.LogFile})

	sink, err := file.NewSink(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, func() {}, err
	}

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, func() {}, fmt.Errorf("unable to set up tracing: %w", err)
	}

	var srv *http.Server
	if flags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Addr: flags.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", flags.metricsAddr))
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("error flushing traces", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return &runtimeEnv{cfg: cfg, logger: logger, sink: sink}, cleanup, nil
}
