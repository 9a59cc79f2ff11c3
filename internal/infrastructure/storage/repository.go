package storage

import (
	"context"
	"errors"

	"txwatch/internal/application"
	"txwatch/internal/domain"
	"txwatch/internal/infrastructure/clickhouse"
	"txwatch/internal/infrastructure/mysql"
	"txwatch/internal/streaming"
)

// Repository combines the MySQL record/receipt archive with the ClickHouse
// event log behind the single ArchiveRepository seam.
type Repository struct {
	mysql  archiveStore
	events *clickhouse.EventRepository
}

// archiveStore lets the combined repository run over either the plain or
// the Redis-cached MySQL repository.
type archiveStore interface {
	StoreRecords(ctx context.Context, records []domain.TransactionRecord) error
	MarkRecordsChecked(ctx context.Context, marks []application.CheckedMark) error
	StoreReceipts(ctx context.Context, receipts []application.FinalizedReceipt) error
	QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.TransactionRecord, error)
	QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]application.FinalizedReceipt, error)
	Stats(ctx context.Context, chainID *uint64) (uint64, uint64, error)
	Ping(ctx context.Context) error
}

var _ archiveStore = (*mysql.Repository)(nil)
var _ archiveStore = (*mysql.CachedRepository)(nil)

func NewRepository(store archiveStore, events *clickhouse.EventRepository) (*Repository, error) {
	if store == nil {
		return nil, errors.New("mysql repository is required")
	}
	if events == nil {
		return nil, errors.New("clickhouse event repository is required")
	}
	return &Repository{mysql: store, events: events}, nil
}

func (r *Repository) StoreRecords(ctx context.Context, records []domain.TransactionRecord) error {
	return r.mysql.StoreRecords(ctx, records)
}

func (r *Repository) MarkRecordsChecked(ctx context.Context, marks []application.CheckedMark) error {
	return r.mysql.MarkRecordsChecked(ctx, marks)
}

func (r *Repository) StoreReceipts(ctx context.Context, receipts []application.FinalizedReceipt) error {
	return r.mysql.StoreReceipts(ctx, receipts)
}

func (r *Repository) StoreEvents(ctx context.Context, events []streaming.Message) error {
	return r.events.StoreEvents(ctx, events)
}

func (r *Repository) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.TransactionRecord, error) {
	return r.mysql.QueryRecords(ctx, filter)
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]application.FinalizedReceipt, error) {
	return r.mysql.QueryReceipts(ctx, filter)
}

func (r *Repository) QueryEvents(ctx context.Context, chainID uint64, hash string, limit int) ([]streaming.Message, error) {
	return r.events.QueryEvents(ctx, chainID, hash, limit)
}

func (r *Repository) Stats(ctx context.Context, chainID *uint64) (uint64, uint64, error) {
	return r.mysql.Stats(ctx, chainID)
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.mysql.Ping(ctx); err != nil {
		return err
	}
	return r.events.Ping(ctx)
}
