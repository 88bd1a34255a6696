package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MikaelTHEoret/mastermind"
	"github.com/MikaelTHEoret/mastermind/internal/config"
	"github.com/MikaelTHEoret/mastermind/internal/memory"
	"github.com/MikaelTHEoret/mastermind/internal/memory/persist"
	"github.com/MikaelTHEoret/mastermind/internal/observability"
	"github.com/MikaelTHEoret/mastermind/internal/resilience"
	"github.com/MikaelTHEoret/mastermind/internal/tokenizer"
)

type globalFlags struct {
	configPath  string
	envFile     string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "mastermind",
		Short:         "Converse with language-model backends backed by associative memory",
		Version:       mastermind.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "mastermind.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "load environment variables from this file before reading the config (default: .env when present)")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(
		newChatCmd(flags),
		newRememberCmd(flags),
		newRecallCmd(flags),
		newForgetCmd(flags),
		newLinkCmd(flags),
		newLinksCmd(flags),
	)
	return root
}

// session is everything a command needs, built from the global flags.
type session struct {
	cfg     *config.Config
	manager *config.Manager
	logger  *slog.Logger
	level   *slog.LevelVar
	client  *mastermind.Client

	persistence memory.Persistence
	tracing     *observability.TracerProvider
	metrics     *http.Server
	redis       *redis.Client
}

func loadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// open builds a session. The caller must close it.
func open(ctx context.Context, flags *globalFlags) (_ *session, err error) {
	if err := loadEnv(flags.envFile); err != nil {
		return nil, err
	}

	manager, err := config.NewManager(flags.configPath, slog.Default())
	if err != nil {
		return nil, err
	}
	cfg := manager.Get()

	s := &session{cfg: cfg, manager: manager, level: new(slog.LevelVar)}
	defer func() {
		if err != nil {
			s.close(ctx)
		}
	}()

	s.level.Set(observability.ParseLevel(cfg.Logging.Level))
	redactor := observability.NewRedactor()
	redactor.AddSecret(cfg.Primary.APIKey, "PRIMARY_API_KEY")
	if cfg.Primary.Fallback != nil {
		redactor.AddSecret(cfg.Primary.Fallback.APIKey, "FALLBACK_API_KEY")
	}
	s.logger = observability.NewLogger(observability.LoggerConfig{
		Level:      s.level,
		Output:     os.Stderr,
		JSONFormat: cfg.Logging.Format != "text",
	}, redactor)

	manager.OnChange(func(next *config.Config) {
		s.level.Set(observability.ParseLevel(next.Logging.Level))
		s.logger.Info("log level reloaded", "level", next.Logging.Level)
	})
	if err := manager.Watch(ctx); err != nil {
		s.logger.Warn("config hot-reload disabled", "error", err)
	}

	if flags.metricsAddr != "" {
		s.serveMetrics(flags.metricsAddr)
	}

	s.tracing, err = observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: mastermind.Version,
		SampleRate:     cfg.Tracing.SampleRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	res, err := persist.Open(ctx, persist.Config{Driver: cfg.Memory.Driver, DSN: cfg.Memory.DSN}, s.logger)
	if err != nil {
		return nil, err
	}
	s.persistence = res.Persistence
	if res.Degraded {
		s.logger.Warn("memories will not outlive this process", "configured_driver", cfg.Memory.Driver)
	}

	opts := []mastermind.Option{
		mastermind.WithPrimary(cfg.Primary),
		mastermind.WithRetryPolicy(cfg.Retry),
		mastermind.WithLogger(s.logger),
		mastermind.WithTracer(s.tracing.Tracer()),
		mastermind.WithPersistence(res.Persistence),
		mastermind.WithDimension(cfg.Memory.Dimension),
		mastermind.WithCompactionThreshold(cfg.Conversation.Threshold),
		mastermind.WithRetrieval(memory.RetrieverConfig{
			Window:       cfg.Memory.ContextWindow,
			Limit:        cfg.Memory.Limit,
			MinRelevance: cfg.Memory.MinRelevance,
		}),
	}
	if cfg.Memory.Embedder == config.EmbedderBackend {
		opts = append(opts, mastermind.WithBackendEmbeddings())
	}
	if cfg.RateLimit.Estimator == config.EstimatorTiktoken {
		opts = append(opts, mastermind.WithTokenEstimator(tokenizer.NewTiktokenEstimator(cfg.Primary.Model)))
	}
	if cfg.RateLimit.Store == "redis" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
		opts = append(opts, mastermind.WithWindowStore(resilience.NewRedisWindowStore(s.redis, cfg.RateLimit.Prefix)))
	}

	s.client, err = mastermind.New(opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) serveMetrics(addr string) {
	path := s.cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle("GET "+path, promhttp.Handler())
	s.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.logger.Info("metrics listening", "addr", addr, "path", path)
		if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
}

// close flushes conversations and releases everything open acquired.
func (s *session) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if s.client != nil {
		if err := s.client.Cleanup(ctx); err != nil {
			s.logger.Error("cleanup failed", "error", err)
		}
	}
	if s.persistence != nil {
		if err := s.persistence.Close(); err != nil {
			s.logger.Warn("close memory persistence", "error", err)
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.metrics != nil {
		_ = s.metrics.Shutdown(ctx)
	}
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil {
			s.logger.Warn("tracing shutdown", "error", err)
		}
	}
	_ = s.manager.Close()
}

// run opens a session for the duration of fn.
func run(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	return fn(ctx, s)
}
