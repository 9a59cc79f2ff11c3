package application

import (
	"context"
	"math/big"
	"sync"
)

type ReadStatus int

const (
	ReadIdle ReadStatus = iota
	ReadInFlight
	ReadSucceeded
	ReadFailed
)

func (s ReadStatus) String() string {
	switch s {
	case ReadInFlight:
		return "in-flight"
	case ReadSucceeded:
		return "succeeded"
	case ReadFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Reader caches one independently fetched chain quantity (a balance or an
// allowance) together with its read status. Refetch runs the fetch and
// replaces the cached value; overlapping refetches are resolved by
// generation so a slow stale read never overwrites a newer one.
type Reader struct {
	fetch func(ctx context.Context) (*big.Int, error)

	mu         sync.Mutex
	generation uint64
	status     ReadStatus
	value      *big.Int
	err        error
}

func NewReader(fetch func(ctx context.Context) (*big.Int, error)) *Reader {
	return &Reader{fetch: fetch}
}

func (r *Reader) Refetch(ctx context.Context) error {
	r.mu.Lock()
	r.generation++
	generation := r.generation
	if r.status != ReadSucceeded {
		r.status = ReadInFlight
	}
	r.mu.Unlock()

	value, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if generation != r.generation {
		return err
	}
	if err != nil {
		r.status = ReadFailed
		r.err = err
		return err
	}
	r.status = ReadSucceeded
	r.value = value
	r.err = nil
	return nil
}

// Value returns the cached quantity and the status of the last read. The
// quantity is only meaningful when the status is ReadSucceeded.
func (r *Reader) Value() (*big.Int, ReadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.value == nil {
		return nil, r.status
	}
	return new(big.Int).Set(r.value), r.status
}

func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
