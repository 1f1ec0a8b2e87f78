package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-pullsink/pkg/config"
	"github.com/illmade-knight/go-pullsink/pkg/health"
	"github.com/illmade-knight/go-pullsink/pkg/logging"
	"github.com/illmade-knight/go-pullsink/pkg/messagepipeline"
	"github.com/illmade-knight/go-pullsink/pkg/metrics"
	"github.com/illmade-knight/go-pullsink/pkg/microservice"
	"github.com/illmade-knight/go-pullsink/pkg/tracing"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Exit codes.
const (
	exitConfig  = 1
	exitStartup = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

func execute(args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return exitConfig
		}
		return exitStartup
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "pullsink",
		Short: "Pull Pub/Sub messages in batches and hand them to the configured sinks",
		Long: `pullsink drains a Pub/Sub subscription in batches bounded by count and time,
processes every message in order and acknowledges a batch only after all of it
was processed. Settings come from the YAML file given by --config and from
PULLSINK_ environment variables, which take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.LogLevel, os.Stdout, logging.Options{Console: cfg.LogConsole})
			if err != nil {
				return &config.ConfigurationError{Err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	return cmd
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	subscription := messagepipeline.SubscriptionName(cfg.ProjectID, cfg.SubscriptionID)
	logger.Info().Str("subscription", subscription).Str("transport", cfg.Transport).Msg("Starting pullsink.")

	tp, shutdownTracing, err := tracing.NewTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down tracing.")
		}
	}()

	registry := metrics.NewRegistry(subscription)
	heartbeat := health.NewHeartbeat(cfg.HealthFile, logger)

	server := microservice.NewBaseServer(logger, cfg.HTTPPort, func() error {
		return heartbeat.Check(cfg.HealthMaxAge)
	})
	server.Handle("/metrics", registry.Handler())
	if err := server.Start(); err != nil {
		return err
	}

	var closers closerStack
	defer closers.closeAll(logger)

	subscriber, err := newSubscriber(ctx, cfg, logger)
	if err != nil {
		shutdownServer(server)
		return err
	}
	closers.push("subscriber", subscriber.Close)

	consumerCfg, err := cfg.ConsumerConfig()
	if err != nil {
		shutdownServer(server)
		return &config.ConfigurationError{Err: err}
	}
	consumer, err := messagepipeline.NewBatchingConsumer(consumerCfg, subscriber, heartbeat, registry, logger)
	if err != nil {
		shutdownServer(server)
		return err
	}

	processor, err := buildProcessor(ctx, cfg, &closers, logger)
	if err != nil {
		shutdownServer(server)
		return err
	}

	service, err := messagepipeline.NewPullService(messagepipeline.PullServiceConfig{
		Recorder: registry,
		Tracer:   tp.Tracer("github.com/illmade-knight/go-pullsink"),
	}, consumer, processor, logger)
	if err != nil {
		shutdownServer(server)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownServer(server)
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("pullsink stopped.")
	return err
}

func newSubscriber(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (subscriberCloser, error) {
	subCfg := cfg.SubscriberConfig()
	switch cfg.Transport {
	case config.TransportGRPC:
		return messagepipeline.NewGoogleGRPCSubscriber(ctx, subCfg, logger)
	default:
		return messagepipeline.NewGoogleRESTSubscriber(ctx, subCfg, logger)
	}
}

type subscriberCloser interface {
	messagepipeline.SubscriberClient
	Close() error
}

func shutdownServer(server *microservice.BaseServer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(ctx)
}
