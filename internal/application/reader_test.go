package application

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestReader_StatusTransitions(t *testing.T) {
	fetchErr := errors.New("rpc down")
	failing := true
	reader := NewReader(func(ctx context.Context) (*big.Int, error) {
		if failing {
			return nil, fetchErr
		}
		return big.NewInt(42), nil
	})

	if value, status := reader.Value(); value != nil || status != ReadIdle {
		t.Fatalf("expected idle empty reader, got %v / %s", value, status)
	}

	if err := reader.Refetch(context.Background()); !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, status := reader.Value(); status != ReadFailed {
		t.Errorf("expected failed status, got %s", status)
	}
	if !errors.Is(reader.Err(), fetchErr) {
		t.Errorf("expected stored error, got %v", reader.Err())
	}

	failing = false
	if err := reader.Refetch(context.Background()); err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	value, status := reader.Value()
	if status != ReadSucceeded || value.Int64() != 42 {
		t.Errorf("expected succeeded 42, got %v / %s", value, status)
	}
	if reader.Err() != nil {
		t.Errorf("error not cleared: %v", reader.Err())
	}
}

func TestReader_StaleReadDoesNotOverwrite(t *testing.T) {
	// The outer fetch kicks off a newer refetch before returning, so its own
	// result is stale by the time it completes.
	var reader *Reader
	outer := true
	reader = NewReader(func(ctx context.Context) (*big.Int, error) {
		if outer {
			outer = false
			if err := reader.Refetch(ctx); err != nil {
				return nil, err
			}
			return big.NewInt(1), nil
		}
		return big.NewInt(2), nil
	})

	if err := reader.Refetch(context.Background()); err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	value, status := reader.Value()
	if status != ReadSucceeded || value.Int64() != 2 {
		t.Errorf("stale read overwrote the newer value: %v / %s", value, status)
	}
}

func TestReader_ValueReturnsCopy(t *testing.T) {
	reader := NewReader(func(ctx context.Context) (*big.Int, error) {
		return big.NewInt(7), nil
	})
	if err := reader.Refetch(context.Background()); err != nil {
		t.Fatalf("refetch failed: %v", err)
	}

	value, _ := reader.Value()
	value.SetInt64(99)

	current, _ := reader.Value()
	if current.Int64() != 7 {
		t.Error("mutating a returned value leaked into the reader")
	}
}
