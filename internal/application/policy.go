package application

import (
	"time"

	"txwatch/internal/domain"
)

// ShouldCheck decides whether a pending record is due for a receipt lookup
// at the given block height. Finalized records are never re-checked; a
// record that has never been checked is always due. Otherwise the lookup
// cadence backs off with pending age: every block for the first five
// minutes, roughly every 3 blocks up to an hour, roughly every 10 blocks
// after that.
func ShouldCheck(blockNumber uint64, record domain.TransactionRecord, now time.Time) bool {
	if record.Finalized() {
		return false
	}
	if record.LastCheckedBlock == nil {
		return true
	}
	if blockNumber <= *record.LastCheckedBlock {
		return false
	}
	blocksSinceCheck := blockNumber - *record.LastCheckedBlock
	minutesPending := float64(now.UnixMilli()-record.AddedTime) / 1000 / 60
	switch {
	case minutesPending > 60:
		return blocksSinceCheck > 9
	case minutesPending > 5:
		return blocksSinceCheck > 2
	default:
		return true
	}
}
