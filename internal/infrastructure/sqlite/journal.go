package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"txwatch/internal/domain"

	_ "modernc.org/sqlite"
)

// Journal persists every store transition so pending transactions survive a
// restart and resume polling with their original added time.
type Journal struct {
	db *sql.DB
}

func NewJournal(dbPath string) (*Journal, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `CREATE TABLE IF NOT EXISTS transactions (
		chain_id INTEGER NOT NULL,
		hash TEXT NOT NULL,
		summary TEXT NOT NULL,
		added_time INTEGER NOT NULL,
		last_checked_block INTEGER,
		receipt TEXT,
		PRIMARY KEY (chain_id, hash)
	)`
	_, err := db.Exec(schema)
	return err
}

func (j *Journal) RecordAdded(ctx context.Context, record domain.TransactionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `INSERT INTO transactions (chain_id, hash, summary, added_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chain_id, hash) DO NOTHING`,
		record.ChainID, record.Hash, record.Summary, record.AddedTime)
	return err
}

func (j *Journal) RecordChecked(ctx context.Context, chainID uint64, hash string, blockNumber uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `UPDATE transactions SET last_checked_block = ?
		WHERE chain_id = ? AND hash = ? AND receipt IS NULL`,
		blockNumber, chainID, hash)
	return err
}

func (j *Journal) RecordFinalized(ctx context.Context, chainID uint64, hash string, receipt domain.Receipt) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	// receipt IS NULL keeps the first archived receipt intact.
	_, err = j.db.ExecContext(ctx, `UPDATE transactions SET receipt = ?
		WHERE chain_id = ? AND hash = ? AND receipt IS NULL`,
		string(payload), chainID, hash)
	return err
}

// Load returns every persisted record for seeding the store on boot.
func (j *Journal) Load(ctx context.Context) ([]domain.TransactionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, `SELECT chain_id, hash, summary, added_time, last_checked_block, receipt
		FROM transactions ORDER BY added_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var record domain.TransactionRecord
		var lastChecked sql.NullInt64
		var receiptRaw sql.NullString
		if err := rows.Scan(&record.ChainID, &record.Hash, &record.Summary, &record.AddedTime, &lastChecked, &receiptRaw); err != nil {
			return nil, err
		}
		if lastChecked.Valid {
			block := uint64(lastChecked.Int64)
			record.LastCheckedBlock = &block
		}
		if receiptRaw.Valid && receiptRaw.String != "" {
			var receipt domain.Receipt
			if err := json.Unmarshal([]byte(receiptRaw.String), &receipt); err != nil {
				return nil, err
			}
			record.Receipt = &receipt
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (j *Journal) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return j.db.PingContext(ctx)
}

func (j *Journal) Close() error {
	return j.db.Close()
}
