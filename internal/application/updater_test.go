package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"txwatch/internal/domain"
)

type fakeLedger struct {
	mu          sync.Mutex
	latest      uint64
	latestErr   error
	receipts    map[string]domain.Receipt
	receiptErr  error
	lookupCount map[string]int
}

func newFakeLedger(latest uint64) *fakeLedger {
	return &fakeLedger{
		latest:      latest,
		receipts:    make(map[string]domain.Receipt),
		lookupCount: make(map[string]int),
	}
}

func (f *fakeLedger) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return 0, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeLedger) TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCount[hash]++
	if f.receiptErr != nil {
		return domain.Receipt{}, false, f.receiptErr
	}
	receipt, ok := f.receipts[hash]
	return receipt, ok, nil
}

func (f *fakeLedger) setReceipt(hash string, receipt domain.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = receipt
}

func (f *fakeLedger) setLatest(block uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = block
}

func (f *fakeLedger) lookups(hash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookupCount[hash]
}

func newTestUpdater(t *testing.T, ledger *fakeLedger, store *Store) *Updater {
	t.Helper()
	updater, err := NewUpdater(ledger, store, nil, UpdaterConfig{ChainID: 1})
	if err != nil {
		t.Fatalf("new updater: %v", err)
	}
	return updater
}

func TestUpdater_ChecksThenFinalizes(t *testing.T) {
	ledger := newFakeLedger(100)
	store := NewStore()
	ctx := context.Background()
	_ = store.Add(ctx, 1, "0xaa", "a", time.Now().UnixMilli())

	updater := newTestUpdater(t, ledger, store)

	// No receipt yet: the round records a check at the current height.
	updater.tick(ctx)
	updater.inflight.Wait()

	record, _ := store.Get(1, "0xaa")
	if record.LastCheckedBlock == nil || *record.LastCheckedBlock != 100 {
		t.Fatalf("expected last checked block 100, got %v", record.LastCheckedBlock)
	}
	if record.Finalized() {
		t.Fatal("record finalized without a receipt")
	}

	// Receipt appears at the next height.
	ledger.setLatest(101)
	ledger.setReceipt("0xaa", domain.Receipt{
		TransactionHash: "0xaa",
		BlockNumber:     101,
		Status:          1,
	})
	updater.tick(ctx)
	updater.inflight.Wait()

	record, _ = store.Get(1, "0xaa")
	if !record.Finalized() {
		t.Fatal("record not finalized after receipt appeared")
	}
	if record.Receipt.Status != 1 {
		t.Errorf("expected status 1, got %d", record.Receipt.Status)
	}

	// Finalized records drop out of the schedule entirely.
	before := ledger.lookups("0xaa")
	ledger.setLatest(200)
	updater.tick(ctx)
	updater.inflight.Wait()
	if ledger.lookups("0xaa") != before {
		t.Error("finalized record was queried again")
	}
}

func TestUpdater_HeightFetchFailureSkipsRound(t *testing.T) {
	ledger := newFakeLedger(100)
	ledger.latestErr = errors.New("rpc down")
	store := NewStore()
	ctx := context.Background()
	_ = store.Add(ctx, 1, "0xaa", "a", time.Now().UnixMilli())

	updater := newTestUpdater(t, ledger, store)
	updater.tick(ctx)
	updater.inflight.Wait()

	if ledger.lookups("0xaa") != 0 {
		t.Error("receipt lookup issued despite height fetch failure")
	}
}

func TestUpdater_LookupErrorLeavesRecordUntouched(t *testing.T) {
	ledger := newFakeLedger(100)
	ledger.receiptErr = errors.New("timeout")
	store := NewStore()
	ctx := context.Background()
	_ = store.Add(ctx, 1, "0xaa", "a", time.Now().UnixMilli())

	updater := newTestUpdater(t, ledger, store)
	updater.tick(ctx)
	updater.inflight.Wait()

	record, _ := store.Get(1, "0xaa")
	if record.LastCheckedBlock != nil {
		t.Error("failed lookup must not advance the checked height")
	}
}

func TestUpdater_DiscardsResultAfterCancel(t *testing.T) {
	ledger := newFakeLedger(100)
	ledger.setReceipt("0xaa", domain.Receipt{TransactionHash: "0xaa", BlockNumber: 100, Status: 1})
	store := NewStore()
	_ = store.Add(context.Background(), 1, "0xaa", "a", time.Now().UnixMilli())

	updater := newTestUpdater(t, ledger, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	updater.inflight.Add(1)
	updater.reconcile(ctx, "0xaa", 100)

	record, _ := store.Get(1, "0xaa")
	if record.Finalized() {
		t.Error("result applied after the session was torn down")
	}
}

func TestUpdater_SkipsIneligibleRecords(t *testing.T) {
	ledger := newFakeLedger(100)
	store := NewStore()
	ctx := context.Background()
	_ = store.Add(ctx, 1, "0xaa", "a", time.Now().UnixMilli())
	_ = store.MarkChecked(ctx, 1, "0xaa", 100)

	updater := newTestUpdater(t, ledger, store)
	updater.tick(ctx)
	updater.inflight.Wait()

	if ledger.lookups("0xaa") != 0 {
		t.Error("record checked at the current height was queried again")
	}
}
