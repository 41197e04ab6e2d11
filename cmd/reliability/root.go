package main

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/elder-voice/reliability/internal/action"
	"github.com/elder-voice/reliability/internal/config"
	"github.com/elder-voice/reliability/internal/escalation"
	"github.com/elder-voice/reliability/internal/events"
	"github.com/elder-voice/reliability/internal/health"
	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/elder-voice/reliability/internal/monitor"
	"github.com/elder-voice/reliability/internal/retry"
	"github.com/elder-voice/reliability/internal/status"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "reliability",
		Short:         "Dependency monitoring and retrying action invocation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config",
		envOrDefault("RELIABILITY_CONFIG", ""), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newProbeCommand(flags))
	root.AddCommand(newInvokeCommand(flags))
	return root
}

// load reads the configuration and builds the process logger.
func (f *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// components is the wired reliability layer.
type components struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	store     *status.Store
	bus       *events.Bus
	scheduler *monitor.Scheduler
	executor  *retry.Executor
	invoker   *action.Invoker
}

func build(cfg *config.Config, logger *slog.Logger) (*components, error) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := status.NewStore(cfg.DependencyIDs(), time.Now())
	bus := events.NewBus(logger, m)

	checker := health.NewChecker(health.CheckerConfig{Timeout: cfg.ProbeTimeout()}, nil, logger)

	policy := escalation.Policy{RetryLimit: cfg.RetryLimit}
	scheduler, err := monitor.New(monitor.Config{
		Interval: cfg.CheckInterval(),
		URLs:     cfg.Dependencies,
		Policy:   policy,
	}, monitor.Options{
		Store:   store,
		Prober:  checker,
		Bus:     bus,
		Sink:    escalation.MultiSink{escalation.NewLogSink(logger), escalation.NewMetricsSink(m)},
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	executor := retry.New(retry.Config{
		RetryLimit: cfg.RetryLimit,
		Delay:      cfg.RetryDelay(),
	}, logger, retry.WithMetrics(m))

	client := action.NewClient(action.Config{
		URLs:               cfg.Dependencies,
		WorkflowWebhookURL: cfg.WorkflowWebhookURL,
	}, &http.Client{}, logger)

	return &components{
		registry:  registry,
		metrics:   m,
		store:     store,
		bus:       bus,
		scheduler: scheduler,
		executor:  executor,
		invoker:   action.NewInvoker(client, executor),
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
