package model

// Contract is reference metadata keyed by (chain_id, address), maintained by
// an external administrative process and read-only here.
type Contract struct {
	ChainID      string `json:"chain_id"`
	Address      string `json:"address"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	ContractType string `json:"contract_type"`
}
