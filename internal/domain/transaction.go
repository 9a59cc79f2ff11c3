package domain

// TransactionRecord tracks one submitted transaction from submission until
// a receipt is attached. A record with a non-nil Receipt is finalized and
// never mutated again.
type TransactionRecord struct {
	ChainID   uint64 `json:"chain_id"`
	Hash      string `json:"hash"`
	Summary   string `json:"summary"`
	AddedTime int64  `json:"added_time"` // milliseconds since epoch

	// LastCheckedBlock is the highest block height at which the record was
	// polled without resolution; nil means never checked.
	LastCheckedBlock *uint64  `json:"last_checked_block,omitempty"`
	Receipt          *Receipt `json:"receipt,omitempty"`
}

// Finalized reports whether a receipt has been attached.
func (t TransactionRecord) Finalized() bool {
	return t.Receipt != nil
}

// Clone returns a deep copy so store transitions never alias a published
// record.
func (t TransactionRecord) Clone() TransactionRecord {
	out := t
	if t.LastCheckedBlock != nil {
		block := *t.LastCheckedBlock
		out.LastCheckedBlock = &block
	}
	if t.Receipt != nil {
		receipt := *t.Receipt
		out.Receipt = &receipt
	}
	return out
}
