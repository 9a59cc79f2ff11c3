package application

import (
	"testing"
	"time"

	"txwatch/internal/domain"
)

func pendingRecord(added time.Time, lastChecked *uint64) domain.TransactionRecord {
	return domain.TransactionRecord{
		ChainID:          1,
		Hash:             "0xabc",
		AddedTime:        added.UnixMilli(),
		LastCheckedBlock: lastChecked,
	}
}

func TestShouldCheck_FinalizedNever(t *testing.T) {
	now := time.Now()
	record := pendingRecord(now, nil)
	record.Receipt = &domain.Receipt{TransactionHash: "0xabc", Status: 1}

	if ShouldCheck(100, record, now) {
		t.Error("finalized record must never be checked")
	}
}

func TestShouldCheck_NeverCheckedAlways(t *testing.T) {
	now := time.Now()
	record := pendingRecord(now.Add(-2*time.Hour), nil)

	if !ShouldCheck(100, record, now) {
		t.Error("record with no prior check must be checked regardless of age")
	}
}

func TestShouldCheck_NoHeightAdvance(t *testing.T) {
	now := time.Now()
	last := uint64(100)
	record := pendingRecord(now, &last)

	if ShouldCheck(100, record, now) {
		t.Error("must not check at the already-checked height")
	}
	if ShouldCheck(99, record, now) {
		t.Error("must not check below the already-checked height")
	}
}

func TestShouldCheck_FreshEveryBlock(t *testing.T) {
	now := time.Now()
	last := uint64(100)
	record := pendingRecord(now.Add(-time.Minute), &last)

	if !ShouldCheck(101, record, now) {
		t.Error("fresh record must be checked on the next block")
	}
}

func TestShouldCheck_MediumAgeBackoff(t *testing.T) {
	now := time.Now()
	last := uint64(100)
	record := pendingRecord(now.Add(-10*time.Minute), &last)

	if ShouldCheck(102, record, now) {
		t.Error("2 blocks since check is not enough after 5 minutes pending")
	}
	if !ShouldCheck(103, record, now) {
		t.Error("3 blocks since check is due after 5 minutes pending")
	}
}

func TestShouldCheck_OldAgeBackoff(t *testing.T) {
	now := time.Now()
	last := uint64(100)
	record := pendingRecord(now.Add(-2*time.Hour), &last)

	if ShouldCheck(109, record, now) {
		t.Error("9 blocks since check is not enough after an hour pending")
	}
	if !ShouldCheck(110, record, now) {
		t.Error("10 blocks since check is due after an hour pending")
	}
}

func TestShouldCheck_TierBoundaries(t *testing.T) {
	now := time.Now()
	last := uint64(100)

	// Exactly 5 minutes pending stays in the every-block tier.
	record := pendingRecord(now.Add(-5*time.Minute), &last)
	if !ShouldCheck(101, record, now) {
		t.Error("exactly 5 minutes pending must still check every block")
	}

	// Exactly 60 minutes pending stays in the 3-block tier.
	record = pendingRecord(now.Add(-60*time.Minute), &last)
	if !ShouldCheck(103, record, now) {
		t.Error("exactly 60 minutes pending must use the 3-block cadence")
	}
	if ShouldCheck(102, record, now) {
		t.Error("exactly 60 minutes pending must not check after 2 blocks")
	}
}
