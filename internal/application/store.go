package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"txwatch/internal/domain"
)

// Journal receives every successful store transition. Implementations
// persist or publish the mutation; a journal failure never rolls back the
// in-memory transition.
type Journal interface {
	RecordAdded(ctx context.Context, record domain.TransactionRecord) error
	RecordChecked(ctx context.Context, chainID uint64, hash string, blockNumber uint64) error
	RecordFinalized(ctx context.Context, chainID uint64, hash string, receipt domain.Receipt) error
}

var (
	ErrDuplicateTransaction = errors.New("transaction already recorded")
	ErrUnknownTransaction   = errors.New("transaction not found")
	ErrAlreadyFinalized     = errors.New("transaction already finalized")
)

// Store holds the per-network transaction collections. All mutations go
// through Add, MarkChecked and Finalize; transitions replace the record
// value rather than mutating it in place, so snapshots handed out by the
// read methods stay valid across suspension points.
type Store struct {
	mu       sync.RWMutex
	records  map[uint64]map[string]domain.TransactionRecord
	journals []Journal
}

func NewStore(journals ...Journal) *Store {
	return &Store{
		records:  make(map[uint64]map[string]domain.TransactionRecord),
		journals: journals,
	}
}

// Restore seeds the collection from persisted records without notifying
// journals. Used once on boot.
func (s *Store) Restore(records []domain.TransactionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		network := s.records[record.ChainID]
		if network == nil {
			network = make(map[string]domain.TransactionRecord)
			s.records[record.ChainID] = network
		}
		if _, ok := network[record.Hash]; ok {
			continue
		}
		network[record.Hash] = record.Clone()
	}
}

// Add inserts a new pending record. A hash already present for the network
// is rejected so duplicate submissions cannot overwrite history.
func (s *Store) Add(ctx context.Context, chainID uint64, hash, summary string, addedTime int64) error {
	s.mu.Lock()
	network := s.records[chainID]
	if network == nil {
		network = make(map[string]domain.TransactionRecord)
		s.records[chainID] = network
	}
	if _, ok := network[hash]; ok {
		s.mu.Unlock()
		return ErrDuplicateTransaction
	}
	record := domain.TransactionRecord{
		ChainID:   chainID,
		Hash:      hash,
		Summary:   summary,
		AddedTime: addedTime,
	}
	network[hash] = record
	s.mu.Unlock()

	for _, journal := range s.journals {
		if err := journal.RecordAdded(ctx, record); err != nil {
			slog.Error("journal add failed", "hash", hash, "err", err)
		}
	}
	return nil
}

// MarkChecked advances the last-checked height on a pending record.
// Finalized records are immutable; checking one is a safe no-op reported
// as ErrAlreadyFinalized.
func (s *Store) MarkChecked(ctx context.Context, chainID uint64, hash string, blockNumber uint64) error {
	s.mu.Lock()
	record, ok := s.records[chainID][hash]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTransaction
	}
	if record.Finalized() {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	next := record.Clone()
	next.LastCheckedBlock = &blockNumber
	s.records[chainID][hash] = next
	s.mu.Unlock()

	for _, journal := range s.journals {
		if err := journal.RecordChecked(ctx, chainID, hash, blockNumber); err != nil {
			slog.Error("journal check failed", "hash", hash, "err", err)
		}
	}
	return nil
}

// Finalize attaches a receipt, making the record immutable. First write
// wins: finalizing twice leaves the original receipt intact.
func (s *Store) Finalize(ctx context.Context, chainID uint64, hash string, receipt domain.Receipt) error {
	s.mu.Lock()
	record, ok := s.records[chainID][hash]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTransaction
	}
	if record.Finalized() {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	next := record.Clone()
	next.Receipt = &receipt
	s.records[chainID][hash] = next
	s.mu.Unlock()

	for _, journal := range s.journals {
		if err := journal.RecordFinalized(ctx, chainID, hash, receipt); err != nil {
			slog.Error("journal finalize failed", "hash", hash, "err", err)
		}
	}
	return nil
}

// Get returns a snapshot of a single record.
func (s *Store) Get(chainID uint64, hash string) (domain.TransactionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[chainID][hash]
	if !ok {
		return domain.TransactionRecord{}, false
	}
	return record.Clone(), true
}

// Pending returns snapshots of all records without a receipt, oldest first.
func (s *Store) Pending(chainID uint64) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []domain.TransactionRecord
	for _, record := range s.records[chainID] {
		if record.Finalized() {
			continue
		}
		pending = append(pending, record.Clone())
	}
	sortRecords(pending)
	return pending
}

// All returns snapshots of every record for the network, oldest first.
func (s *Store) All(chainID uint64) []domain.TransactionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]domain.TransactionRecord, 0, len(s.records[chainID]))
	for _, record := range s.records[chainID] {
		records = append(records, record.Clone())
	}
	sortRecords(records)
	return records
}

func sortRecords(records []domain.TransactionRecord) {
	sort.Slice(records, func(a, b int) bool {
		if records[a].AddedTime == records[b].AddedTime {
			return records[a].Hash < records[b].Hash
		}
		return records[a].AddedTime < records[b].AddedTime
	})
}
