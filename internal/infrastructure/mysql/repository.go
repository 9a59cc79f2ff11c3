package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"txwatch/internal/application"
	"txwatch/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Repository archives transaction records and receipts consumed from the
// lifecycle stream. Writes are idempotent so replayed events are safe.
type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			chain_id BIGINT UNSIGNED NOT NULL,
			hash VARCHAR(80) NOT NULL,
			summary TEXT NOT NULL,
			added_time BIGINT NOT NULL,
			last_checked_block BIGINT UNSIGNED NULL,
			PRIMARY KEY (chain_id, hash)
		)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			chain_id BIGINT UNSIGNED NOT NULL,
			hash VARCHAR(80) NOT NULL,
			block_hash VARCHAR(80) NOT NULL,
			block_number BIGINT UNSIGNED NOT NULL,
			tx_index BIGINT UNSIGNED NOT NULL,
			status BIGINT UNSIGNED NOT NULL,
			from_address VARCHAR(64) NOT NULL,
			to_address VARCHAR(64) NOT NULL,
			contract_address VARCHAR(64) NOT NULL,
			PRIMARY KEY (chain_id, hash)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) StoreRecords(ctx context.Context, records []domain.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ctx, span := startSpan(ctx, "mysql.store_records", len(records))
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanError(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (chain_id, hash, summary, added_time)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE hash = hash`)
	if err != nil {
		_ = tx.Rollback()
		return spanError(span, err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, record.ChainID, record.Hash, record.Summary, record.AddedTime); err != nil {
			_ = tx.Rollback()
			return spanError(span, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return spanError(span, err)
	}
	return nil
}

func (r *Repository) MarkRecordsChecked(ctx context.Context, marks []application.CheckedMark) error {
	if len(marks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ctx, span := startSpan(ctx, "mysql.mark_checked", len(marks))
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanError(span, err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE transactions
		SET last_checked_block = GREATEST(COALESCE(last_checked_block, 0), ?)
		WHERE chain_id = ? AND hash = ?`)
	if err != nil {
		_ = tx.Rollback()
		return spanError(span, err)
	}
	defer stmt.Close()

	for _, mark := range marks {
		if _, err := stmt.ExecContext(ctx, mark.BlockNumber, mark.ChainID, mark.Hash); err != nil {
			_ = tx.Rollback()
			return spanError(span, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return spanError(span, err)
	}
	return nil
}

func (r *Repository) StoreReceipts(ctx context.Context, receipts []application.FinalizedReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ctx, span := startSpan(ctx, "mysql.store_receipts", len(receipts))
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return spanError(span, err)
	}
	// INSERT IGNORE keeps the first archived receipt for a hash.
	stmt, err := tx.PrepareContext(ctx, `INSERT IGNORE INTO receipts
		(chain_id, hash, block_hash, block_number, tx_index, status, from_address, to_address, contract_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return spanError(span, err)
	}
	defer stmt.Close()

	for _, item := range receipts {
		receipt := item.Receipt
		if _, err := stmt.ExecContext(ctx, item.ChainID, item.Hash,
			receipt.BlockHash, receipt.BlockNumber, receipt.TransactionIndex, receipt.Status,
			receipt.From, receipt.To, receipt.ContractAddress); err != nil {
			_ = tx.Rollback()
			return spanError(span, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return spanError(span, err)
	}
	return nil
}

// QueryRecords returns archived records, attaching the archived receipt
// where one exists.
func (r *Repository) QueryRecords(ctx context.Context, filter application.RecordQueryFilter) ([]domain.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.ChainID != nil {
		clauses = append(clauses, "t.chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Hash != "" {
		clauses = append(clauses, "t.hash = ?")
		args = append(args, filter.Hash)
	}
	if filter.Pending != nil {
		if *filter.Pending {
			clauses = append(clauses, "r.hash IS NULL")
		} else {
			clauses = append(clauses, "r.hash IS NOT NULL")
		}
	}

	query := `SELECT t.chain_id, t.hash, t.summary, t.added_time, t.last_checked_block,
		r.block_hash, r.block_number, r.tx_index, r.status, r.from_address, r.to_address, r.contract_address
		FROM transactions t
		LEFT JOIN receipts r ON r.chain_id = t.chain_id AND r.hash = t.hash`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY t.added_time ASC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var record domain.TransactionRecord
		var lastChecked sql.NullInt64
		var blockHash, fromAddr, toAddr, contractAddr sql.NullString
		var blockNumber, txIndex, status sql.NullInt64
		if err := rows.Scan(&record.ChainID, &record.Hash, &record.Summary, &record.AddedTime, &lastChecked,
			&blockHash, &blockNumber, &txIndex, &status, &fromAddr, &toAddr, &contractAddr); err != nil {
			return nil, err
		}
		if lastChecked.Valid {
			block := uint64(lastChecked.Int64)
			record.LastCheckedBlock = &block
		}
		if blockHash.Valid {
			record.Receipt = &domain.Receipt{
				BlockHash:        blockHash.String,
				BlockNumber:      uint64(blockNumber.Int64),
				TransactionHash:  record.Hash,
				TransactionIndex: uint64(txIndex.Int64),
				Status:           uint64(status.Int64),
				From:             fromAddr.String,
				To:               toAddr.String,
				ContractAddress:  contractAddr.String,
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]application.FinalizedReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Hash != "" {
		clauses = append(clauses, "hash = ?")
		args = append(args, filter.Hash)
	}
	if filter.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, *filter.Status)
	}

	query := `SELECT chain_id, hash, block_hash, block_number, tx_index, status, from_address, to_address, contract_address
		FROM receipts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY block_number ASC LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []application.FinalizedReceipt
	for rows.Next() {
		var item application.FinalizedReceipt
		if err := rows.Scan(&item.ChainID, &item.Hash,
			&item.Receipt.BlockHash, &item.Receipt.BlockNumber, &item.Receipt.TransactionIndex,
			&item.Receipt.Status, &item.Receipt.From, &item.Receipt.To, &item.Receipt.ContractAddress); err != nil {
			return nil, err
		}
		item.Receipt.TransactionHash = item.Hash
		receipts = append(receipts, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Stats reports archived totals for the state endpoint.
func (r *Repository) Stats(ctx context.Context, chainID *uint64) (total, pending uint64, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT COUNT(*), COUNT(*) - COUNT(r.hash)
		FROM transactions t
		LEFT JOIN receipts r ON r.chain_id = t.chain_id AND r.hash = t.hash`
	args := []any{}
	if chainID != nil {
		query += " WHERE t.chain_id = ?"
		args = append(args, *chainID)
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total, &pending); err != nil {
		return 0, 0, err
	}
	return total, pending, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func startSpan(ctx context.Context, name string, count int) (context.Context, trace.Span) {
	tracer := otel.Tracer("txwatch/mysql")
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int("batch.count", count))
	return ctx, span
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
