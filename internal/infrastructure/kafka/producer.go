package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txwatch/internal/domain"
	"txwatch/internal/infrastructure/telemetry"
	"txwatch/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Producer publishes transaction lifecycle events, one topic per chain.
// It implements the store's journal seam, so every transition that the
// tracker applies locally also reaches the archive pipeline.
type Producer struct {
	writer  *kafka.Writer
	prefix  string
	chainID uint64
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
	ChainID     uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "txwatch-events"
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix, chainID: cfg.ChainID}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) RecordAdded(ctx context.Context, record domain.TransactionRecord) error {
	return p.publish(ctx, "tracker.publish_submitted", streaming.Message{
		Type:      streaming.MessageTypeSubmitted,
		ChainID:   record.ChainID,
		Hash:      record.Hash,
		Summary:   record.Summary,
		AddedTime: record.AddedTime,
	})
}

func (p *Producer) RecordChecked(ctx context.Context, chainID uint64, hash string, blockNumber uint64) error {
	return p.publish(ctx, "tracker.publish_checked", streaming.Message{
		Type:         streaming.MessageTypeChecked,
		ChainID:      chainID,
		Hash:         hash,
		CheckedBlock: blockNumber,
	})
}

func (p *Producer) RecordFinalized(ctx context.Context, chainID uint64, hash string, receipt domain.Receipt) error {
	return p.publish(ctx, "tracker.publish_finalized", streaming.Message{
		Type:    streaming.MessageTypeFinalized,
		ChainID: chainID,
		Hash:    hash,
		Receipt: &receipt,
	})
}

func (p *Producer) publish(ctx context.Context, spanName string, msg streaming.Message) error {
	tracer := otel.Tracer("txwatch/kafka")

	traceID, traceIDHex, ok := telemetry.NewTraceID()
	if !ok {
		traceIDHex = ""
	}
	traceCtx := ctx
	if ok {
		if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
			traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
		}
	}
	traceCtx, span := tracer.Start(traceCtx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("message.type", string(msg.Type)),
		attribute.Int64("chain.id", int64(msg.ChainID)),
		attribute.String("tx.hash", msg.Hash),
	)

	msg.TraceID = traceIDHex
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topicForChain(msg.ChainID),
		Key:     []byte(msg.Hash),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Producer) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
