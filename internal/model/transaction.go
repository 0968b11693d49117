package model

import "time"

// Transaction is one ingested transaction, upserted on (chain_id, tx_hash).
// Addresses are lower-cased at the adapter boundary; Value is a decimal string
// wide enough for 256-bit integers.
type Transaction struct {
	ChainID     string    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address,omitempty"`
	Value       string    `json:"value"`
	InputData   string    `json:"input_data"`
	Timestamp   time.Time `json:"timestamp"`
	IsCanonical bool      `json:"is_canonical"`
}
