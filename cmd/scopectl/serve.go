package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/vango-dev/scopebind/internal/config"
	"github.com/vango-dev/scopebind/pkg/scope"
	"github.com/vango-dev/scopebind/pkg/server"
	"github.com/vango-dev/scopebind/pkg/snapshot"
	"github.com/vango-dev/scopebind/pkg/telemetry"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		policy     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket hub",
		Long: `Run the hub server.

Each websocket connection becomes a dependent node; each room is a
source node. Subscriptions are bound to both, so closing a connection
or deleting a room releases them.

Examples:
  scopectl serve
  scopectl serve --addr=:8080
  scopectl serve --config=hub.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if policy != "" {
				cfg.Binder.DestroyedSource = policy
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Config file (.json or .toml)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&policy, "destroyed-source", "", "Binding to a destroyed source: ignore or reject")

	return cmd
}

// loadConfig reads path, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New(), nil
	}
	return config.LoadOptional(path)
}

// serverConfig translates file configuration into a server.Config.
func serverConfig(cfg *config.Config) (*server.Config, error) {
	logger := cfg.Log.NewLogger(os.Stderr)

	sc := &server.Config{
		Addr:               cfg.Server.Addr,
		ReadTimeout:        cfg.Server.ReadTimeoutDuration(),
		WriteTimeout:       cfg.Server.WriteTimeoutDuration(),
		MaxMessageSize:     cfg.Server.MaxMessageSize,
		SendQueue:          cfg.Server.SendQueue,
		Policy:             cfg.Binder.Policy(),
		MetricsNamespace:   cfg.Metrics.Namespace,
		MetricsEventLabels: cfg.Metrics.EventLabels,
		MetricsPath:        cfg.Metrics.Path,
		Logger:             logger,
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sc.Registry = reg
	}

	if cfg.Tracing.Enabled {
		var opts []telemetry.TracingOption
		if cfg.Tracing.TracerName != "" {
			opts = append(opts, telemetry.WithTracerName(cfg.Tracing.TracerName))
		}
		sc.Observers = append(sc.Observers, scope.Observer(telemetry.OpenTelemetry(opts...)))
		sc.Tracer = otel.Tracer(cfg.Tracing.TracerName)
	}

	sink, err := sinkFromConfig(cfg.Snapshot, snapshot.FormatJSON)
	if err != nil {
		return nil, err
	}
	sc.Sink = sink

	return sc, nil
}

// sinkFromConfig returns the configured snapshot sink, or nil when none is
// configured. S3 wins over a directory.
func sinkFromConfig(sc config.SnapshotConfig, f snapshot.Format) (snapshot.Sink, error) {
	switch {
	case sc.S3.Bucket != "":
		client := snapshot.NewS3Client(snapshot.S3ClientConfig{
			Region:   sc.S3.Region,
			Endpoint: sc.S3.Endpoint,
		})
		sink, err := snapshot.NewS3Sink(client, sc.S3.Bucket, sc.S3.Prefix)
		if err != nil {
			return nil, err
		}
		return sink.WithContentType(f.ContentType()), nil
	case sc.Dir != "":
		return snapshot.NewFileSink(sc.Dir), nil
	default:
		return nil, nil
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := serverConfig(cfg)
	if err != nil {
		return err
	}

	printBanner()
	fmt.Println("  serve")
	fmt.Println()
	info("Config:    %s", describeConfig(cfg))
	info("Policy:    %s", sc.Policy)
	if sc.Registry != nil {
		info("Metrics:   %s", sc.MetricsPath)
	}
	if sc.Sink == nil {
		warn("No snapshot sink configured, POST /snapshots is disabled")
	}
	fmt.Println()

	srv := server.New(sc)
	success("Listening on %s", sc.Addr)

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	success("Stopped")
	return nil
}

func describeConfig(cfg *config.Config) string {
	if p := cfg.Path(); p != "" {
		return p
	}
	return "defaults"
}
