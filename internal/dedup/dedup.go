package dedup

import (
	"context"

	"go.uber.org/zap"

	"chainScope/internal/model"
)

// KeyStore exposes the stored raw-event keys needed for pre-filtering.
type KeyStore interface {
	ExistingEventKeys(ctx context.Context, chainID string, blockNumbers []uint64) ([]model.EventKey, error)
}

// Deduplicator drops raw events whose (chain, block, log index) key is
// already stored, plus duplicates within the candidate batch itself. It is a
// best-effort pre-filter to avoid wasted work and noisy logs; the upsert key
// at the persistence layer is the correctness backstop.
type Deduplicator struct {
	store  KeyStore
	logger *zap.Logger
}

func New(store KeyStore, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: store, logger: logger}
}

// Filter returns only the events not already stored. The batch is expected to
// hold events for a single chain.
func (d *Deduplicator) Filter(ctx context.Context, events []model.RawEvent) ([]model.RawEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	chainID := events[0].ChainID
	seen := make(map[uint64]struct{})
	blockNumbers := make([]uint64, 0)
	for _, e := range events {
		if _, ok := seen[e.BlockNumber]; ok {
			continue
		}
		seen[e.BlockNumber] = struct{}{}
		blockNumbers = append(blockNumbers, e.BlockNumber)
	}

	existing, err := d.store.ExistingEventKeys(ctx, chainID, blockNumbers)
	if err != nil {
		return nil, err
	}

	known := make(map[model.EventKey]struct{}, len(existing))
	for _, key := range existing {
		known[key] = struct{}{}
	}

	unique := make([]model.RawEvent, 0, len(events))
	for _, e := range events {
		key := e.Key()
		if _, ok := known[key]; ok {
			continue
		}
		known[key] = struct{}{}
		unique = append(unique, e)
	}

	if dropped := len(events) - len(unique); dropped > 0 {
		d.logger.Debug("deduplicated events",
			zap.String("chain_id", chainID),
			zap.Int("dropped", dropped),
			zap.Int("unique", len(unique)),
		)
	}
	return unique, nil
}
