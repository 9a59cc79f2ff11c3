package domain

// Receipt is the normalized outcome of a mined transaction. Only these
// fields survive the RPC boundary; everything else in the raw response is
// discarded so the store stays protocol-agnostic.
type Receipt struct {
	BlockHash        string `json:"block_hash"`
	BlockNumber      uint64 `json:"block_number"`
	TransactionHash  string `json:"transaction_hash"`
	TransactionIndex uint64 `json:"transaction_index"`
	Status           uint64 `json:"status"`
	From             string `json:"from"`
	To               string `json:"to,omitempty"`
	ContractAddress  string `json:"contract_address,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}
