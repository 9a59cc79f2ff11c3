package application

import (
	"context"
	"testing"

	"txwatch/internal/domain"
	"txwatch/internal/streaming"

	"github.com/segmentio/kafka-go"
)

type mockArchiveRepo struct {
	records  []domain.TransactionRecord
	marks    []CheckedMark
	receipts []FinalizedReceipt
	events   []streaming.Message
}

func (m *mockArchiveRepo) StoreRecords(ctx context.Context, records []domain.TransactionRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockArchiveRepo) MarkRecordsChecked(ctx context.Context, marks []CheckedMark) error {
	m.marks = append(m.marks, marks...)
	return nil
}

func (m *mockArchiveRepo) StoreReceipts(ctx context.Context, receipts []FinalizedReceipt) error {
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *mockArchiveRepo) StoreEvents(ctx context.Context, events []streaming.Message) error {
	m.events = append(m.events, events...)
	return nil
}

type mockCommitter struct {
	committed []kafka.Message
}

func (m *mockCommitter) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.committed = append(m.committed, msgs...)
	return nil
}

func TestApplyEvent(t *testing.T) {
	repo := &mockArchiveRepo{}
	ctx := context.Background()

	err := ApplyEvent(ctx, repo, streaming.Message{
		Type:      streaming.MessageTypeSubmitted,
		ChainID:   1,
		Hash:      "0xaa",
		Summary:   "Stake IMX (5).",
		AddedTime: 1000,
	})
	if err != nil {
		t.Fatalf("apply submitted: %v", err)
	}
	if len(repo.records) != 1 || repo.records[0].Summary != "Stake IMX (5)." {
		t.Errorf("submitted event not mapped to a record: %+v", repo.records)
	}

	err = ApplyEvent(ctx, repo, streaming.Message{
		Type:         streaming.MessageTypeChecked,
		ChainID:      1,
		Hash:         "0xaa",
		CheckedBlock: 100,
	})
	if err != nil {
		t.Fatalf("apply checked: %v", err)
	}
	if len(repo.marks) != 1 || repo.marks[0].BlockNumber != 100 {
		t.Errorf("checked event not mapped to a mark: %+v", repo.marks)
	}

	err = ApplyEvent(ctx, repo, streaming.Message{
		Type:    streaming.MessageTypeFinalized,
		ChainID: 1,
		Hash:    "0xaa",
		Receipt: &domain.Receipt{TransactionHash: "0xaa", BlockNumber: 100, Status: 1},
	})
	if err != nil {
		t.Fatalf("apply finalized: %v", err)
	}
	if len(repo.receipts) != 1 || repo.receipts[0].Receipt.Status != 1 {
		t.Errorf("finalized event not mapped to a receipt: %+v", repo.receipts)
	}

	if len(repo.events) != 3 {
		t.Errorf("expected all 3 events archived, got %d", len(repo.events))
	}

	if err := ApplyEvent(ctx, repo, streaming.Message{Type: "bogus", ChainID: 1, Hash: "0xaa"}); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestBatch_AddAndFlush(t *testing.T) {
	batch := NewBatch()
	repo := &mockArchiveRepo{}
	committer := &mockCommitter{}
	ctx := context.Background()

	batch.Add(streaming.Message{
		Type:      streaming.MessageTypeSubmitted,
		ChainID:   1,
		Hash:      "0xaa",
		Summary:   "Approve of IMX (5) transfer.",
		AddedTime: 1000,
	}, kafka.Message{Offset: 1})

	batch.Add(streaming.Message{
		Type:         streaming.MessageTypeChecked,
		ChainID:      1,
		Hash:         "0xaa",
		CheckedBlock: 100,
	}, kafka.Message{Offset: 2})

	batch.Add(streaming.Message{
		Type:    streaming.MessageTypeFinalized,
		ChainID: 1,
		Hash:    "0xaa",
		Receipt: &domain.Receipt{TransactionHash: "0xaa", BlockNumber: 101, Status: 1},
	}, kafka.Message{Offset: 3})

	if batch.Len() != 3 {
		t.Errorf("expected batch len 3, got %d", batch.Len())
	}

	if err := batch.Flush(ctx, repo, committer); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(repo.records) != 1 {
		t.Errorf("expected 1 record, got %d", len(repo.records))
	}
	if len(repo.marks) != 1 {
		t.Errorf("expected 1 mark, got %d", len(repo.marks))
	}
	if len(repo.receipts) != 1 {
		t.Errorf("expected 1 receipt, got %d", len(repo.receipts))
	}
	if len(repo.events) != 3 {
		t.Errorf("expected 3 events, got %d", len(repo.events))
	}
	if len(committer.committed) != 3 {
		t.Errorf("expected 3 committed messages, got %d", len(committer.committed))
	}

	if batch.Len() != 0 {
		t.Errorf("expected batch len 0 after reset, got %d", batch.Len())
	}
}

func TestBatch_FlushEmptyIsNoop(t *testing.T) {
	batch := NewBatch()
	committer := &mockCommitter{}

	if err := batch.Flush(context.Background(), &mockArchiveRepo{}, committer); err != nil {
		t.Fatalf("empty flush failed: %v", err)
	}
	if len(committer.committed) != 0 {
		t.Errorf("empty flush committed %d messages", len(committer.committed))
	}
}
