package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"txwatch/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// LedgerSource is the read side of the chain connection. Receipts come back
// already normalized to the domain shape; the bool result distinguishes
// "not mined yet" from an error.
type LedgerSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash string) (domain.Receipt, bool, error)
}

type UpdaterObserver interface {
	OnLatestBlock(block uint64)
	OnRecordChecked(chainID uint64, hash string)
	OnRecordFinalized(chainID uint64, hash string, status uint64)
}

type UpdaterConfig struct {
	ChainID        uint64
	PollInterval   time.Duration
	ReceiptTimeout time.Duration
}

// Updater drives reconciliation: on a fixed cadence it fetches the current
// block height, filters the pending collection through ShouldCheck and
// issues one independent receipt lookup per eligible record. The updater
// owns its timer; cancelling the Run context stops the cadence, cancels
// in-flight lookups and prevents late results from touching the store.
type Updater struct {
	source   LedgerSource
	store    *Store
	observer UpdaterObserver
	cfg      UpdaterConfig
	now      func() time.Time
	inflight sync.WaitGroup
}

func NewUpdater(source LedgerSource, store *Store, observer UpdaterObserver, cfg UpdaterConfig) (*Updater, error) {
	if source == nil || store == nil {
		return nil, errors.New("updater dependencies must not be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 10 * time.Second
	}
	return &Updater{
		source:   source,
		store:    store,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

func (u *Updater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			u.inflight.Wait()
			return ctx.Err()
		case <-ticker.C:
			u.tick(ctx)
		}
	}
}

// tick runs one scheduling round. A height-fetch failure skips the round;
// the next tick retries with no extra backoff, since per-record backoff is
// already encoded in ShouldCheck.
func (u *Updater) tick(ctx context.Context) {
	blockNumber, err := u.source.LatestBlockNumber(ctx)
	if err != nil {
		slog.Warn("block height fetch failed", "chain_id", u.cfg.ChainID, "err", err)
		return
	}
	if u.observer != nil {
		u.observer.OnLatestBlock(blockNumber)
	}

	now := u.now()
	for _, record := range u.store.Pending(u.cfg.ChainID) {
		if !ShouldCheck(blockNumber, record, now) {
			continue
		}
		u.inflight.Add(1)
		go u.reconcile(ctx, record.Hash, blockNumber)
	}
}

// reconcile issues a single receipt lookup for one record and applies the
// outcome. Lookups for distinct records run concurrently with no ordering
// guarantee; the store's no-op rules keep duplicate dispatches safe.
func (u *Updater) reconcile(ctx context.Context, hash string, blockNumber uint64) {
	defer u.inflight.Done()

	queryCtx, cancel := context.WithTimeout(ctx, u.cfg.ReceiptTimeout)
	defer cancel()

	tracer := otel.Tracer("txwatch/updater")
	queryCtx, span := tracer.Start(queryCtx, "updater.check_receipt", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.Int64("chain.id", int64(u.cfg.ChainID)),
		attribute.String("tx.hash", hash),
		attribute.Int64("block.number", int64(blockNumber)),
	)
	defer span.End()

	receipt, found, err := u.source.TransactionReceipt(queryCtx, hash)
	if err != nil {
		// Transient failure: no state mutation, the record stays eligible
		// on a future tick.
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("receipt lookup failed", "hash", hash, "err", err)
		return
	}
	if ctx.Err() != nil {
		// Session torn down while the lookup was in flight; discard.
		return
	}

	if !found {
		switch err := u.store.MarkChecked(ctx, u.cfg.ChainID, hash, blockNumber); {
		case err == nil:
			if u.observer != nil {
				u.observer.OnRecordChecked(u.cfg.ChainID, hash)
			}
		case errors.Is(err, ErrAlreadyFinalized):
			// A concurrent lookup won; nothing to do.
		default:
			slog.Error("mark checked failed", "hash", hash, "err", err)
		}
		return
	}

	switch err := u.store.Finalize(ctx, u.cfg.ChainID, hash, receipt); {
	case err == nil:
		span.SetAttributes(attribute.Int64("receipt.status", int64(receipt.Status)))
		slog.Info("transaction finalized",
			"chain_id", u.cfg.ChainID,
			"hash", hash,
			"block_number", receipt.BlockNumber,
			"status", receipt.Status,
		)
		if u.observer != nil {
			u.observer.OnRecordFinalized(u.cfg.ChainID, hash, receipt.Status)
		}
	case errors.Is(err, ErrAlreadyFinalized):
	default:
		slog.Error("finalize failed", "hash", hash, "err", err)
	}
}
