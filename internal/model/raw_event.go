package model

import "time"

// RawEvent is one undecoded log entry, unique on (chain_id, block_number,
// log_index). IsProcessed is set after the indexer has attempted the event,
// successful or not, so malformed data is never retried forever.
type RawEvent struct {
	ID              string    `json:"id"`
	ChainID         string    `json:"chain_id"`
	BlockNumber     uint64    `json:"block_number"`
	BlockHash       string    `json:"block_hash"`
	TxHash          string    `json:"tx_hash"`
	LogIndex        uint64    `json:"log_index"`
	ContractAddress string    `json:"contract_address"`
	Topics          []string  `json:"topics"`
	Data            string    `json:"data"`
	IsCanonical     bool      `json:"is_canonical"`
	IsProcessed     bool      `json:"is_processed"`
	BlockTimestamp  time.Time `json:"block_timestamp"`
}

// EventKey identifies a raw event for deduplication purposes.
type EventKey struct {
	ChainID     string
	BlockNumber uint64
	LogIndex    uint64
}

// Key returns the dedup key for this event.
func (e RawEvent) Key() EventKey {
	return EventKey{ChainID: e.ChainID, BlockNumber: e.BlockNumber, LogIndex: e.LogIndex}
}
