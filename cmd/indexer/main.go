package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chainScope/internal/chain"
	"chainScope/internal/config"
	"chainScope/internal/dedup"
	"chainScope/internal/enrich"
	"chainScope/internal/indexer"
	"chainScope/internal/metrics"
	"chainScope/internal/model"
	"chainScope/internal/normalize"
	"chainScope/internal/publish"
	"chainScope/internal/reorg"
	"chainScope/internal/retry"
	"chainScope/internal/storage/postgres"
	"chainScope/internal/tracker"
)

func main() {
	root := &cobra.Command{
		Use:          "chainscope",
		Short:        "Multi-chain block and event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline",
		RunE:  runPipeline,
	}

	runCmd.Flags().String("db-dsn", "", "Postgres DSN")
	runCmd.Flags().StringSlice("kafka-brokers", nil, "Kafka broker addresses (comma-separated)")
	runCmd.Flags().String("kafka-topic", "chainscope.events", "Kafka topic for indexed events")
	runCmd.Flags().String("publish-sink", "kafka", "publish sink (kafka, jsonl, none)")
	runCmd.Flags().String("publish-path", "./data/events.jsonl", "output path for the jsonl sink")
	runCmd.Flags().String("metrics-addr", ":9090", "metrics listen address")
	runCmd.Flags().Duration("tracker-interval", 10*time.Second, "block tracker tick interval")
	runCmd.Flags().Duration("reorg-interval", 60*time.Second, "reorg detector tick interval")
	runCmd.Flags().Duration("indexer-interval", 5*time.Second, "event indexer tick interval")
	runCmd.Flags().Uint64("batch-size", 10, "blocks per chain per tick")
	runCmd.Flags().Int("indexer-batch-size", 500, "raw events per indexer batch")
	runCmd.Flags().Uint64("seed-buffer", 10, "blocks behind safe height for first-run seeding")
	runCmd.Flags().Int("max-retries", 5, "maximum RPC retry attempts")
	runCmd.Flags().Duration("retry-backoff", time.Second, "initial retry backoff")
	runCmd.Flags().Duration("retry-max-delay", 10*time.Second, "retry backoff cap")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("db-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	retryOpts := retry.Options{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryBackoff,
		MaxDelay:     cfg.RetryMaxDelay,
		Factor:       2,
		OnRetry:      m.RetryAttempts.Inc,
	}

	registry := chain.NewRegistry()
	for _, cc := range cfg.Chains {
		var adapter chain.Adapter
		switch cc.Family {
		case "evm":
			adapter = chain.NewEVMAdapter(cc.ChainID, cc.Name, cc.RPCURL, retryOpts, logger)
		case "solana":
			adapter = chain.NewSolanaAdapter(cc.ChainID, cc.Name, cc.RPCURL, retryOpts, logger)
		default:
			return fmt.Errorf("chain %q: unsupported family %q", cc.ChainID, cc.Family)
		}

		if err := store.EnsureChain(ctx, model.Chain{
			ChainID:           cc.ChainID,
			Name:              cc.Name,
			Family:            cc.Family,
			RPCURL:            cc.RPCURL,
			WSURL:             cc.WSURL,
			IsActive:          true,
			ConfirmationDepth: cc.ConfirmationDepth,
		}); err != nil {
			return fmt.Errorf("register chain %s: %w", cc.ChainID, err)
		}

		if err := adapter.Start(ctx); err != nil {
			return fmt.Errorf("start adapter %s: %w", cc.ChainID, err)
		}
		registry.Register(adapter)
	}
	defer func() {
		for _, adapter := range registry.All() {
			if err := adapter.Stop(context.Background()); err != nil {
				logger.Warn("adapter stop failed", zap.String("chain_id", adapter.ChainID()), zap.Error(err))
			}
		}
	}()

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	blockTracker := tracker.New(tracker.Config{
		Interval:   cfg.TrackerInterval,
		BatchSize:  cfg.BatchSize,
		SeedBuffer: cfg.SeedBuffer,
	}, registry, store, dedup.New(store, logger), m, logger)

	detector := reorg.New(cfg.ReorgInterval, registry, store, m, logger)

	eventIndexer := indexer.New(indexer.Config{
		Interval:  cfg.IndexerInterval,
		BatchSize: cfg.IndexerBatchSize,
	}, store, normalize.New(logger), enrich.New(store, logger), publisher, m, logger)

	logger.Info("pipeline start",
		zap.Int("chains", len(cfg.Chains)),
		zap.String("publish_sink", cfg.PublishSink),
		zap.Duration("tracker_interval", cfg.TrackerInterval),
		zap.Duration("reorg_interval", cfg.ReorgInterval),
		zap.Duration("indexer_interval", cfg.IndexerInterval),
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); blockTracker.Run(ctx) }()
	go func() { defer wg.Done(); detector.Run(ctx) }()
	go func() { defer wg.Done(); eventIndexer.Run(ctx) }()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("pipeline stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return fmt.Errorf("database dsn is required")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	logger.Info("schema applied")
	return nil
}

func newPublisher(cfg config.Config, logger *zap.Logger) (publish.Publisher, error) {
	switch cfg.PublishSink {
	case "kafka":
		return publish.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	case "jsonl":
		return publish.NewJSONLPublisher(cfg.PublishPath), nil
	case "none":
		return publish.Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported publish-sink %q", cfg.PublishSink)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
