package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainScope/internal/chain"
	"chainScope/internal/dedup"
	"chainScope/internal/metrics"
	"chainScope/internal/model"
	"chainScope/internal/retry"
)

// Store is the persistence surface the tracker writes through.
type Store interface {
	ActiveChains(ctx context.Context) ([]model.Chain, error)
	UpdateChainCursor(ctx context.Context, chainID string, height uint64) error
	UpsertBlocks(ctx context.Context, blocks []model.Block) error
	UpsertTransactions(ctx context.Context, txs []model.Transaction) error
	InsertRawEvents(ctx context.Context, events []model.RawEvent) error
}

// Config holds the tracker's runtime settings.
type Config struct {
	// Interval between scheduler ticks.
	Interval time.Duration

	// BatchSize bounds the block window processed per chain per tick.
	BatchSize uint64

	// SeedBuffer is how far behind the safe height a never-indexed chain
	// starts, instead of backfilling from genesis.
	SeedBuffer uint64
}

// Tracker is the per-chain polling scheduler: on every tick it advances each
// active chain's cursor toward the safe height, fetching and persisting
// blocks, transactions and raw events along the way.
type Tracker struct {
	cfg      Config
	registry *chain.Registry
	store    Store
	dedup    *dedup.Deduplicator
	logger   *zap.Logger
	metrics  *metrics.Metrics

	state *runState
	wg    sync.WaitGroup
}

func New(cfg Config, registry *chain.Registry, store Store, deduplicator *dedup.Deduplicator, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Tracker{
		cfg:      cfg,
		registry: registry,
		store:    store,
		dedup:    deduplicator,
		logger:   logger,
		metrics:  m,
		state:    newRunState(),
	}
}

// Run ticks until ctx is cancelled, then drains in-flight chain tasks.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick spawns one task per idle active chain. Per-chain failures are captured
// and logged here so no chain can block another.
func (t *Tracker) tick(ctx context.Context) {
	chains, err := t.store.ActiveChains(ctx)
	if err != nil {
		t.logger.Error("load active chains failed", zap.Error(err))
		return
	}

	for _, c := range chains {
		if !t.state.tryStart(c.ChainID) {
			continue
		}

		t.wg.Add(1)
		go func(c model.Chain) {
			defer t.wg.Done()
			defer t.state.finish(c.ChainID)
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("chain task panicked", zap.String("chain_id", c.ChainID), zap.Any("panic", r))
				}
			}()

			if err := t.processChain(ctx, c); err != nil {
				t.logger.Error("chain processing failed", zap.String("chain_id", c.ChainID), zap.Error(err))
			}
		}(c)
	}
}

// processChain runs one bounded window for one chain. On error the cursor is
// left unadvanced so the next tick retries the same window; committed partial
// writes are absorbed by the upsert keys.
func (t *Tracker) processChain(ctx context.Context, c model.Chain) error {
	adapter := t.registry.Get(c.ChainID)
	if adapter == nil {
		t.logger.Warn("no adapter registered for chain", zap.String("chain_id", c.ChainID))
		return nil
	}

	latest, err := adapter.LatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("latest height: %w", err)
	}

	safe := c.SafeHeight(latest)
	cursor := c.LatestIndexedBlock

	if cursor == 0 {
		cursor = seedCursor(safe, t.cfg.SeedBuffer)
		t.logger.Info("first run for chain, seeding cursor",
			zap.String("chain_id", c.ChainID),
			zap.Uint64("cursor", cursor),
			zap.Uint64("safe_height", safe),
		)
	}

	if cursor >= safe {
		t.logger.Debug("chain is up to date", zap.String("chain_id", c.ChainID), zap.Uint64("cursor", cursor))
		return nil
	}

	from := cursor + 1
	to := cursor + t.cfg.BatchSize
	if to > safe {
		to = safe
	}

	t.logger.Info("processing window",
		zap.String("chain_id", c.ChainID),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)

	events, err := adapter.FetchBlockRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch block range %d-%d: %w", from, to, err)
	}

	eventCounts := make(map[uint64]uint64)
	for _, e := range events {
		eventCounts[e.BlockNumber]++
	}

	blocks := make([]model.Block, 0, to-from+1)
	for height := from; height <= to; height++ {
		meta, err := adapter.BlockMetadata(ctx, height)
		if err != nil {
			if retry.Permanent(err) {
				t.logger.Debug("height absent upstream, omitting", zap.String("chain_id", c.ChainID), zap.Uint64("height", height))
			} else {
				t.logger.Warn("block metadata fetch failed", zap.String("chain_id", c.ChainID), zap.Uint64("height", height), zap.Error(err))
			}
			continue
		}
		blocks = append(blocks, model.Block{
			ChainID:     c.ChainID,
			BlockNumber: height,
			BlockHash:   meta.Hash,
			ParentHash:  meta.ParentHash,
			Timestamp:   meta.Timestamp,
			IsCanonical: true,
			EventCount:  eventCounts[height],
		})
	}
	if err := t.store.UpsertBlocks(ctx, blocks); err != nil {
		return fmt.Errorf("upsert blocks: %w", err)
	}

	for height := from; height <= to; height++ {
		txs, err := adapter.FetchTransactions(ctx, height)
		if err != nil {
			if retry.Permanent(err) {
				t.logger.Debug("no transactions at height", zap.String("chain_id", c.ChainID), zap.Uint64("height", height))
			} else {
				t.logger.Warn("transaction fetch failed", zap.String("chain_id", c.ChainID), zap.Uint64("height", height), zap.Error(err))
			}
			continue
		}
		if len(txs) == 0 {
			continue
		}
		if err := t.store.UpsertTransactions(ctx, txs); err != nil {
			return fmt.Errorf("upsert transactions at %d: %w", height, err)
		}
	}

	unique, err := t.dedup.Filter(ctx, events)
	if err != nil {
		return fmt.Errorf("deduplicate events: %w", err)
	}
	if len(unique) > 0 {
		if err := t.store.InsertRawEvents(ctx, unique); err != nil {
			return fmt.Errorf("insert raw events: %w", err)
		}
	}

	if err := t.store.UpdateChainCursor(ctx, c.ChainID, to); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	t.metrics.BlocksIndexed.WithLabelValues(c.ChainID).Add(float64(len(blocks)))
	t.metrics.RawEvents.WithLabelValues(c.ChainID).Add(float64(len(unique)))
	t.metrics.CursorHeight.WithLabelValues(c.ChainID).Set(float64(to))

	t.logger.Info("window complete",
		zap.String("chain_id", c.ChainID),
		zap.Int("blocks", len(blocks)),
		zap.Int("raw_events", len(unique)),
		zap.Uint64("cursor", to),
	)
	return nil
}

// seedCursor picks the starting cursor for a never-indexed chain: a small
// buffer behind the safe height, clamped at zero, so first boot never
// backfills from genesis.
func seedCursor(safe, buffer uint64) uint64 {
	if safe <= buffer {
		return 0
	}
	return safe - buffer
}
