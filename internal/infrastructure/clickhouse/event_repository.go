package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"txwatch/internal/streaming"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// EventRepository appends the raw lifecycle event stream. The log is
// append-only; finalized semantics live in the MySQL archive, this table
// exists for audit and analytics.
type EventRepository struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewRepository(dsn string) (*EventRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &EventRepository{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS lifecycle_events (
		chain_id UInt64,
		hash String,
		event_type String,
		summary String,
		added_time Int64,
		checked_block UInt64,
		receipt_block UInt64,
		receipt_status UInt64,
		received_at DateTime DEFAULT now()
	) ENGINE = MergeTree
	PARTITION BY chain_id
	ORDER BY (chain_id, hash, received_at)`)
	return err
}

func (r *EventRepository) StoreEvents(ctx context.Context, events []streaming.Message) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO lifecycle_events (chain_id, hash, event_type, summary, added_time, checked_block, receipt_block, receipt_status)`)
	if err != nil {
		return err
	}

	for _, event := range events {
		var receiptBlock, receiptStatus uint64
		if event.Receipt != nil {
			receiptBlock = event.Receipt.BlockNumber
			receiptStatus = event.Receipt.Status
		}
		if err := batch.Append(
			event.ChainID,
			strings.ToLower(event.Hash),
			string(event.Type),
			event.Summary,
			event.AddedTime,
			event.CheckedBlock,
			receiptBlock,
			receiptStatus,
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

// QueryEvents returns the event history for one hash, oldest first.
func (r *EventRepository) QueryEvents(ctx context.Context, chainID uint64, hash string, limit int) ([]streaming.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `SELECT chain_id, hash, event_type, summary, added_time, checked_block
		FROM lifecycle_events
		WHERE chain_id = ? AND hash = ?
		ORDER BY received_at ASC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, chainID, strings.ToLower(hash), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []streaming.Message
	for rows.Next() {
		var event streaming.Message
		var eventType string
		if err := rows.Scan(&event.ChainID, &event.Hash, &eventType, &event.Summary, &event.AddedTime, &event.CheckedBlock); err != nil {
			return nil, err
		}
		event.Type = streaming.MessageType(eventType)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}
