package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/chat-relay/internal/auth"
	"github.com/nulzo/chat-relay/internal/cli"
	"github.com/nulzo/chat-relay/internal/config"
	"github.com/nulzo/chat-relay/internal/gateway"
	"github.com/nulzo/chat-relay/internal/httpclient"
	"github.com/nulzo/chat-relay/internal/logsink"
	"github.com/nulzo/chat-relay/internal/metrics"
	"github.com/nulzo/chat-relay/internal/platform/logger"
	"github.com/nulzo/chat-relay/internal/platform/otel"
	"github.com/nulzo/chat-relay/internal/server"
	"github.com/nulzo/chat-relay/internal/version"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Initialize(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		EnableColor: logger.DefaultConfig().EnableColor,
		File:        cfg.Log.File,
	})
	defer logger.Sync()
	// the package wrappers add a caller frame that direct use does not
	log := logger.Get().WithOptions(zap.AddCallerSkip(-1))

	log.Info(fmt.Sprintf("%s %s", cli.Arrow(), cli.Stylize("chat-relay "+version.Current, cli.BoldCode)),
		zap.String("env", cfg.Server.Env),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracer, err := otel.InitTracer(cfg.Tracing.ServiceName, version.Current, log, os.Stdout)
		if err != nil {
			return fmt.Errorf("failed to init tracer: %w", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracer(tctx)
		}()
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New()
	}

	upstream := httpclient.NewClient(cfg.Upstream.Timeout)
	sideClient := httpclient.NewClient(cfg.Auth.Timeout)

	table, err := gateway.NewTable(cfg.Routing.Marker, gateway.BuildProfiles(cfg.Providers, log))
	if err != nil {
		return fmt.Errorf("invalid provider table: %w", err)
	}
	if table.Default() == nil {
		log.Warn("No default provider configured; unprefixed models will be rejected")
	}

	verifier, err := auth.FromConfig(cfg.Auth, sideClient)
	if err != nil {
		return err
	}
	if cfg.Auth.Mode == config.AuthNone {
		log.Warn(fmt.Sprintf("%s %s", cli.WarningSign(), cli.Stylize("Authentication is disabled", cli.Yellow)))
	}

	var ingestor logsink.Ingestor
	if cfg.LogSink.Enabled {
		sink, err := logsink.FromConfig(cfg.LogSink, sideClient)
		if err != nil {
			return err
		}
		ingestor = logsink.NewIngestor(log, sink, recorder, logsink.Options{
			BufferSize: cfg.LogSink.Buffer,
			Workers:    cfg.LogSink.Workers,
			Timeout:    cfg.LogSink.Timeout,
		})
	}

	service := gateway.NewService(log, table, upstream, ingestor, recorder)
	srv := server.New(cfg, log, service, verifier, recorder)

	g, gctx := errgroup.WithContext(ctx)

	if ingestor != nil {
		// workers outlive the request context so buffered entries drain on shutdown
		ingestor.Start(context.Background())
	}

	g.Go(srv.ListenAndServe)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		if ingestor != nil {
			ingestor.Stop()
		}
		return err
	})

	if cfg.Server.CheckUpdates {
		g.Go(func() error {
			checkForUpdates(gctx, log)
			return nil
		})
	}

	return g.Wait()
}

func checkForUpdates(ctx context.Context, log *zap.Logger) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update, err := version.NewChecker(httpclient.NewClient(2*time.Second)).Check(cctx, version.Current)
	if err != nil {
		log.Debug("Update check failed", zap.Error(err))
		return
	}
	if update.Available() {
		log.Warn(fmt.Sprintf("%s You are running an outdated version (%s). The latest version is %s.",
			cli.WarningSign(), update.Current, update.Latest))
	}
}
