package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txwatch/internal/application"
	"txwatch/internal/config"
	"txwatch/internal/infrastructure/ethrpc"
	"txwatch/internal/infrastructure/kafka"
	"txwatch/internal/infrastructure/logging"
	"txwatch/internal/infrastructure/sqlite"
	"txwatch/internal/infrastructure/telemetry"
	"txwatch/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/tracker.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	journal, err := sqlite.NewJournal(cfg.DBPath)
	if err != nil {
		slog.Error("journal error", "err", err)
		os.Exit(1)
	}
	defer journal.Close()

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:     cfg.KafkaBrokers,
		TopicPrefix: cfg.KafkaTopicPrefix,
		ChainID:     cfg.ChainID,
	})
	if err != nil {
		slog.Error("kafka error", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	store := application.NewStore(journal, producer)
	restored, err := journal.Load(context.Background())
	if err != nil {
		slog.Error("journal load error", "err", err)
		os.Exit(1)
	}
	store.Restore(restored)

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "txwatch-tracker", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:     cfg.RPCURL,
		Account: cfg.Account,
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	balance := application.NewReader(func(ctx context.Context) (*big.Int, error) {
		return rpcClient.BalanceOf(ctx, cfg.TokenAddress)
	})
	allowance := application.NewReader(func(ctx context.Context) (*big.Int, error) {
		return rpcClient.Allowance(ctx, cfg.TokenAddress, cfg.StakingRouter)
	})

	workflow, err := application.NewWorkflow(application.WorkflowConfig{
		ChainID:       cfg.ChainID,
		Account:       cfg.Account,
		TokenAddress:  cfg.TokenAddress,
		StakingRouter: cfg.StakingRouter,
		TokenSymbol:   cfg.TokenSymbol,
		TokenDecimals: cfg.TokenDecimals,
	}, store, rpcClient, balance, allowance)
	if err != nil {
		slog.Error("workflow error", "err", err)
		os.Exit(1)
	}

	metrics := httpapi.NewMetrics()
	updater, err := application.NewUpdater(rpcClient, store, metrics, application.UpdaterConfig{
		ChainID:        cfg.ChainID,
		PollInterval:   cfg.PollInterval,
		ReceiptTimeout: cfg.ReceiptTimeout,
	})
	if err != nil {
		slog.Error("updater error", "err", err)
		os.Exit(1)
	}

	httpServer, err := httpapi.NewServer(cfg, store, workflow, rpcClient, journal, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server error", "err", err)
			cancel()
		}
	}()

	if cfg.Account != "" {
		if err := workflow.Refresh(ctx); err != nil {
			slog.Warn("initial chain read failed", "err", err)
		}
	}

	slog.Info("tracker started",
		"rpc", cfg.RPCURL,
		"chain_id", cfg.ChainID,
		"restored", len(restored),
		"poll_interval", cfg.PollInterval,
	)
	if err := updater.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("tracker stopped", "err", err)
	}
}
