package model

import "time"

// Block is one ingested block header. Rows are append-only: a reorged block is
// flipped to is_canonical=false and the replacement is inserted alongside it,
// so (chain_id, block_number) is only unique among canonical rows.
type Block struct {
	ChainID     string    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	ParentHash  string    `json:"parent_hash"`
	Timestamp   time.Time `json:"timestamp"`
	IsCanonical bool      `json:"is_canonical"`
	EventCount  uint64    `json:"event_count"`
}
