// recorder connects to the Infinity websocket and persists decoded streams
// to Postgres.
// Usage: go run ./cmd/recorder --config configs/recorder.local.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	infinity "github.com/infinity-exchange/infinity-go"
	"github.com/infinity-exchange/infinity-go/internal/config"
	"github.com/infinity-exchange/infinity-go/internal/recorder"
	"github.com/infinity-exchange/infinity-go/internal/rest"
	"github.com/infinity-exchange/infinity-go/internal/version"
	"github.com/infinity-exchange/infinity-go/pkg/schema"
)

func main() {
	configPath := flag.String("config", "configs/recorder.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"ws_url", cfg.Venue.WSURL,
		"public_topics", len(cfg.Subscriptions.Public),
		"private_topics", len(cfg.Subscriptions.Private),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)
	pool, err := recorder.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Build the websocket client
	clientCfg := infinity.Config{
		WSURL:                cfg.Venue.WSURL,
		ReconnectInterval:    cfg.Connection.ReconnectInterval,
		AutoReconnectRetries: cfg.Connection.AutoReconnectRetries,
		OpenTimeout:          cfg.Connection.OpenTimeout,
		PingInterval:         cfg.Connection.PingInterval,
		PingTimeout:          cfg.Connection.PingTimeout,
		WriteTimeout:         cfg.Connection.WriteTimeout,
		QueueSize:            cfg.Connection.BufferSize,
		Logger:               logger,
	}
	if cfg.Login.AccessToken != "" {
		clientCfg.Login = rest.StaticLogin{
			Token:   cfg.Login.AccessToken,
			Address: cfg.Login.AccountAddress,
		}
	}
	client := infinity.New(clientCfg)

	if err := client.ConnectAll(ctx); err != nil {
		logger.Error("failed to connect websocket", "error", err)
		os.Exit(1)
	}
	defer client.Shutdown()

	publicTopics, err := expandTopics(ctx, cfg, cfg.Subscriptions.Public, logger)
	if err != nil {
		logger.Error("topic expansion failed", "error", err)
		os.Exit(1)
	}
	privateTopics, err := expandTopics(ctx, cfg, cfg.Subscriptions.Private, logger)
	if err != nil {
		logger.Error("topic expansion failed", "error", err)
		os.Exit(1)
	}

	if err := client.Subscribe(publicTopics...); err != nil {
		logger.Error("public subscription failed", "error", err)
		os.Exit(1)
	}
	if len(privateTopics) > 0 {
		if err := client.Subscribe(privateTopics...); err != nil {
			logger.Error("private subscription failed", "error", err)
			os.Exit(1)
		}
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, client.MetricsHandler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Start writers
	writerCfg := infinity.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}
	writers := client.Writers(writerCfg, pool, logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range writers {
		w := w
		g.Go(func() error {
			return w.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("failed to start writers", "error", err)
		os.Exit(1)
	}

	logger.Info("recorder running",
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, w := range writers {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.Warn("writer stop failed", "error", err)
		}
	}
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("recorder stopped")
}

// expandTopics resolves "*@<channel>" entries against the venue's instrument
// list. Plain topics pass through unchanged.
func expandTopics(ctx context.Context, cfg *config.RecorderConfig, topics []string, logger *slog.Logger) ([]string, error) {
	var wildcards []schema.Channel
	out := make([]string, 0, len(topics))
	for _, topic := range topics {
		instrument, channel, ok := schema.SplitTopic(topic)
		if ok && instrument == "*" {
			wildcards = append(wildcards, channel)
			continue
		}
		out = append(out, topic)
	}
	if len(wildcards) == 0 {
		return out, nil
	}

	if cfg.Venue.RestURL == "" {
		return nil, fmt.Errorf("wildcard topics require venue.rest_url")
	}
	api := rest.NewClient(cfg.Venue.RestURL, cfg.Venue.Timeout, logger)
	instruments, err := api.GetInstruments(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("expanded wildcard topics",
		"instruments", len(instruments),
		"channels", len(wildcards),
	)
	for _, channel := range wildcards {
		for _, inst := range instruments {
			out = append(out, schema.Topic(inst.InstrumentID, channel))
		}
	}
	return out, nil
}
