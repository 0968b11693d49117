package enrich

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chainScope/internal/model"
)

// ContractStore looks up contract reference metadata.
type ContractStore interface {
	GetContract(ctx context.Context, chainID, address string) (*model.Contract, error)
}

// Enricher merges contract metadata into normalized events. Absence of
// metadata is not an error; the event passes through unchanged.
type Enricher struct {
	store  ContractStore
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[cacheKey]*model.Contract
}

type cacheKey struct {
	chainID string
	address string
}

func New(store ContractStore, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		store:  store,
		logger: logger,
		cache:  make(map[cacheKey]*model.Contract),
	}
}

// Enrich attaches name/symbol/type for the event's contract when known.
func (e *Enricher) Enrich(ctx context.Context, event *model.IndexedEvent) (*model.IndexedEvent, error) {
	if event == nil || event.ContractAddress == "" {
		return event, nil
	}

	contract, err := e.lookup(ctx, event.ChainID, event.ContractAddress)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return event, nil
	}

	if event.DecodedData == nil {
		event.DecodedData = make(map[string]interface{})
	}
	event.DecodedData["contract_name"] = contract.Name
	event.DecodedData["contract_symbol"] = contract.Symbol
	event.DecodedData["contract_type"] = contract.ContractType
	return event, nil
}

// lookup caches both hits and misses; contracts table rows change rarely and
// only via an external process.
func (e *Enricher) lookup(ctx context.Context, chainID, address string) (*model.Contract, error) {
	key := cacheKey{chainID: chainID, address: address}

	e.mu.RLock()
	contract, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return contract, nil
	}

	contract, err := e.store.GetContract(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = contract
	e.mu.Unlock()

	return contract, nil
}
