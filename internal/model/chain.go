package model

// Chain family tags used for adapter selection.
const (
	FamilyEVM    = "evm"
	FamilySolana = "solana"
)

// Chain is one configured network and its ingestion cursor.
type Chain struct {
	ChainID            string `json:"chain_id"`
	Name               string `json:"name"`
	Family             string `json:"family"`
	RPCURL             string `json:"rpc_url"`
	WSURL              string `json:"ws_url,omitempty"`
	IsActive           bool   `json:"is_active"`
	ConfirmationDepth  uint64 `json:"confirmation_depth"`
	LatestIndexedBlock uint64 `json:"latest_indexed_block"`
}

// SafeHeight returns the ingestion frontier: the latest observed height minus
// the confirmation depth, clamped at zero.
func (c Chain) SafeHeight(latest uint64) uint64 {
	if latest <= c.ConfirmationDepth {
		return 0
	}
	return latest - c.ConfirmationDepth
}
