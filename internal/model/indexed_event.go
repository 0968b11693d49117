package model

import "time"

// Event type tags produced by the normalizer.
const (
	EventTypeTransfer = "Transfer"
	EventTypeApproval = "Approval"
	EventTypeUnknown  = "Unknown"
)

// IndexedEvent is one normalized, enriched event. RawEventID is unique per
// row so a retried indexing step cannot produce duplicates. Rows are never
// updated except for the canonical flag.
type IndexedEvent struct {
	ID              string                 `json:"id"`
	RawEventID      string                 `json:"raw_event_id"`
	ChainID         string                 `json:"chain_id"`
	BlockNumber     uint64                 `json:"block_number"`
	TxHash          string                 `json:"tx_hash"`
	EventType       string                 `json:"event_type"`
	ContractAddress string                 `json:"contract_address"`
	FromAddress     string                 `json:"from_address,omitempty"`
	ToAddress       string                 `json:"to_address,omitempty"`
	Value           string                 `json:"value,omitempty"`
	DecodedData     map[string]interface{} `json:"decoded_data,omitempty"`
	IsCanonical     bool                   `json:"is_canonical"`
	Timestamp       time.Time              `json:"timestamp"`
}
