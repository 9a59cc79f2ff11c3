package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"txwatch/internal/domain"
	"txwatch/internal/streaming"

	"github.com/segmentio/kafka-go"
)

// CheckedMark advances the archived last-checked height for one record.
type CheckedMark struct {
	ChainID     uint64
	Hash        string
	BlockNumber uint64
}

// FinalizedReceipt attaches an archived receipt to one record.
type FinalizedReceipt struct {
	ChainID uint64
	Hash    string
	Receipt domain.Receipt
}

// ArchiveRepository is the durable sink for lifecycle events. All writes
// must be idempotent: the stream is at-least-once and a replayed finalized
// event must not overwrite the first archived receipt.
type ArchiveRepository interface {
	StoreRecords(ctx context.Context, records []domain.TransactionRecord) error
	MarkRecordsChecked(ctx context.Context, marks []CheckedMark) error
	StoreReceipts(ctx context.Context, receipts []FinalizedReceipt) error
	StoreEvents(ctx context.Context, events []streaming.Message) error
}

// ApplyEvent archives a single lifecycle event.
func ApplyEvent(ctx context.Context, repo ArchiveRepository, msg streaming.Message) error {
	if repo == nil {
		return errors.New("archive repository is required")
	}

	slog.Debug("consume event",
		"type", msg.Type,
		"chain_id", msg.ChainID,
		"hash", msg.Hash,
	)

	if err := repo.StoreEvents(ctx, []streaming.Message{msg}); err != nil {
		return err
	}
	switch msg.Type {
	case streaming.MessageTypeSubmitted:
		return repo.StoreRecords(ctx, []domain.TransactionRecord{mapToRecord(msg)})
	case streaming.MessageTypeChecked:
		return repo.MarkRecordsChecked(ctx, []CheckedMark{{
			ChainID:     msg.ChainID,
			Hash:        msg.Hash,
			BlockNumber: msg.CheckedBlock,
		}})
	case streaming.MessageTypeFinalized:
		return repo.StoreReceipts(ctx, []FinalizedReceipt{{
			ChainID: msg.ChainID,
			Hash:    msg.Hash,
			Receipt: *msg.Receipt,
		}})
	default:
		return errors.New("unknown message type")
	}
}

func mapToRecord(msg streaming.Message) domain.TransactionRecord {
	return domain.TransactionRecord{
		ChainID:   msg.ChainID,
		Hash:      msg.Hash,
		Summary:   msg.Summary,
		AddedTime: msg.AddedTime,
	}
}

// Batch accumulates consumed lifecycle events for a bulk archive flush
// followed by a single offset commit.
type Batch struct {
	records  []domain.TransactionRecord
	marks    []CheckedMark
	receipts []FinalizedReceipt
	events   []streaming.Message
	messages []kafka.Message
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Add(msg streaming.Message, kafkaMsg kafka.Message) {
	switch msg.Type {
	case streaming.MessageTypeSubmitted:
		b.records = append(b.records, mapToRecord(msg))
	case streaming.MessageTypeChecked:
		b.marks = append(b.marks, CheckedMark{
			ChainID:     msg.ChainID,
			Hash:        msg.Hash,
			BlockNumber: msg.CheckedBlock,
		})
	case streaming.MessageTypeFinalized:
		if msg.Receipt != nil {
			b.receipts = append(b.receipts, FinalizedReceipt{
				ChainID: msg.ChainID,
				Hash:    msg.Hash,
				Receipt: *msg.Receipt,
			})
		}
	}
	b.events = append(b.events, msg)
	b.messages = append(b.messages, kafkaMsg)
}

func (b *Batch) Len() int {
	return len(b.messages)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *Batch) Flush(ctx context.Context, repo ArchiveRepository, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()

	if len(b.records) > 0 {
		if err := repo.StoreRecords(ctx, b.records); err != nil {
			return fmt.Errorf("failed to store records: %w", err)
		}
	}
	if len(b.marks) > 0 {
		if err := repo.MarkRecordsChecked(ctx, b.marks); err != nil {
			return fmt.Errorf("failed to mark records checked: %w", err)
		}
	}
	if len(b.receipts) > 0 {
		if err := repo.StoreReceipts(ctx, b.receipts); err != nil {
			return fmt.Errorf("failed to store receipts: %w", err)
		}
	}
	if len(b.events) > 0 {
		if err := repo.StoreEvents(ctx, b.events); err != nil {
			return fmt.Errorf("failed to store events: %w", err)
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	slog.Info("flushed batch",
		"count", b.Len(),
		"records", len(b.records),
		"checked", len(b.marks),
		"receipts", len(b.receipts),
		"duration", time.Since(start),
	)

	b.Reset()
	return nil
}

func (b *Batch) Reset() {
	b.records = b.records[:0]
	b.marks = b.marks[:0]
	b.receipts = b.receipts[:0]
	b.events = b.events[:0]
	b.messages = b.messages[:0]
}
