package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"txwatch/internal/application"
	"txwatch/internal/config"
	"txwatch/internal/infrastructure/clickhouse"
	"txwatch/internal/infrastructure/logging"
	"txwatch/internal/infrastructure/mysql"
	"txwatch/internal/infrastructure/storage"
	"txwatch/internal/infrastructure/telemetry"
	"txwatch/internal/interfaces/httpapi"
	"txwatch/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
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
		logFile = "logs/archiver.log"
	}
	if _, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       logFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}); err != nil {
		slog.Error("logger init error", "err", err)
	}

	baseRepo, err := mysql.NewRepository(cfg.DBDSN)
	if err != nil {
		slog.Error("db error", "err", err)
		os.Exit(1)
	}

	eventRepo, err := clickhouse.NewRepository(cfg.ClickhouseDSN)
	if err != nil {
		slog.Error("clickhouse error", "err", err)
		os.Exit(1)
	}

	combinedRepo, err := storage.NewRepository(baseRepo, eventRepo)
	if err != nil {
		slog.Error("storage error", "err", err)
		os.Exit(1)
	}
	var (
		repo  application.ArchiveRepository = combinedRepo
		store httpapi.ArchiveStore          = combinedRepo
	)
	if cachedRepo, err := mysql.NewCachedRepository(baseRepo, mysql.CacheConfig{
		Addr: cfg.RedisAddr,
	}); err == nil {
		cached, cacheErr := storage.NewRepository(cachedRepo, eventRepo)
		if cacheErr == nil {
			repo = cached
			store = cached
			slog.Info("record query cache enabled", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Warn("record query cache disabled", "err", err)
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "txwatch-archiver", cfg.OtelEndpoint)
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

	metrics := httpapi.NewMetrics()
	httpServer, err := httpapi.NewArchiveServer(cfg, store, metrics, httpapi.BuildInfo{
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

	chainIDs := cfg.ChainIDs
	if len(chainIDs) == 0 {
		chainIDs = []uint64{cfg.ChainID}
	}

	var wg sync.WaitGroup
	readers := make([]*kafka.Reader, 0, len(chainIDs))
	for _, chainID := range chainIDs {
		topic := fmt.Sprintf("%s-%d", cfg.KafkaTopicPrefix, chainID)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaGroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		readers = append(readers, reader)

		wg.Add(1)
		go func(chain uint64, r *kafka.Reader) {
			defer wg.Done()
			consumeStream(ctx, r, repo, metrics, chain, cfg)
		}(chainID, reader)
	}

	slog.Info("archiver started", "topics", len(chainIDs), "group", cfg.KafkaGroupID)
	<-ctx.Done()
	for _, reader := range readers {
		_ = reader.Close()
	}
	wg.Wait()
}

func consumeStream(ctx context.Context, reader *kafka.Reader, repo application.ArchiveRepository, metrics *httpapi.Metrics, chainID uint64, cfg config.Config) {
	tracer := otel.Tracer("txwatch/archiver")
	batch := application.NewBatch()

	// Flush on a short interval so low-traffic chains still archive promptly.
	flushInterval := 500 * time.Millisecond
	if cfg.PollInterval > 0 {
		flushInterval = cfg.PollInterval
	}

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, flushInterval)
		message, err := reader.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				if batch.Len() > 0 {
					if err := batch.Flush(ctx, repo, reader); err != nil {
						metrics.IncKafkaApplyErr()
						slog.Error("batch flush error", "err", err)
					}
				}
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			metrics.IncKafkaFetchErr()
			slog.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error", "err", err)
			metrics.IncKafkaDecodeErr()
			if err := reader.CommitMessages(ctx, message); err != nil {
				metrics.IncKafkaCommitErr()
			}
			continue
		}
		if decoded.ChainID != chainID {
			slog.Warn("unexpected chain id on topic", "chain_id", decoded.ChainID, "topic", message.Topic)
		}

		messageCtx := telemetry.ExtractKafkaHeaders(ctx, message.Headers)
		if !trace.SpanContextFromContext(messageCtx).IsValid() && decoded.TraceID != "" {
			if ctxWithTrace, ok := telemetry.ContextWithTraceID(messageCtx, decoded.TraceID); ok {
				messageCtx = ctxWithTrace
			}
		}
		_, span := tracer.Start(messageCtx, "archiver.process_event", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.Int64("chain.id", int64(decoded.ChainID)),
			attribute.String("tx.hash", decoded.Hash),
		)

		batch.Add(decoded, message)
		metrics.ObserveKafkaMessage(message.Topic, message.Offset, message.Time)
		span.End()

		if batch.Len() >= int(cfg.ArchiveBatchSize) {
			if err := batch.Flush(ctx, repo, reader); err != nil {
				metrics.IncKafkaApplyErr()
				slog.Error("batch flush error", "err", err)
			}
		}
	}
}
