package application

// RecordQueryFilter selects archived transaction records.
type RecordQueryFilter struct {
	ChainID *uint64
	Hash    string
	Pending *bool
	Limit   int
}

// ReceiptQueryFilter selects archived receipts.
type ReceiptQueryFilter struct {
	ChainID *uint64
	Hash    string
	Status  *uint64
	Limit   int
}
