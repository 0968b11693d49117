package chain

import (
	"context"
	"time"

	"chainScope/internal/model"
)

// BlockMetadata is the header-level view of a block.
type BlockMetadata struct {
	Hash       string
	ParentHash string
	Timestamp  time.Time
}

// Adapter abstracts one chain family behind a common capability set. All
// methods that hit the network are wrapped by the retry executor inside the
// implementation; callers see either a result, a permanent absent-data error,
// or an exhausted transient error.
type Adapter interface {
	// Start verifies connectivity and prepares the adapter for use.
	Start(ctx context.Context) error

	// Stop releases the underlying client.
	Stop(ctx context.Context) error

	// ChainID returns the configured chain identifier.
	ChainID() string

	// LatestHeight returns the newest block number or slot.
	LatestHeight(ctx context.Context) (uint64, error)

	// BlockMetadata returns hash, parent hash and timestamp for a height.
	BlockMetadata(ctx context.Context, height uint64) (BlockMetadata, error)

	// FetchBlockRange returns all raw events in [from, to] inclusive.
	FetchBlockRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error)

	// FetchTransactions returns the transactions of one block.
	FetchTransactions(ctx context.Context, height uint64) ([]model.Transaction, error)

	// VerifyBlockHash reports whether the chain's current hash at height
	// still equals expected.
	VerifyBlockHash(ctx context.Context, height uint64, expected string) (bool, error)
}

// Registry holds the started adapters keyed by chain id.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.ChainID()] = a
}

// Get returns the adapter for a chain id, or nil if none is registered.
func (r *Registry) Get(chainID string) Adapter {
	return r.adapters[chainID]
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}
