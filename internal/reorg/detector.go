package reorg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chainScope/internal/chain"
	"chainScope/internal/metrics"
	"chainScope/internal/model"
	"chainScope/internal/retry"
)

// Store is the persistence surface the detector reads and remediates through.
type Store interface {
	ActiveChains(ctx context.Context) ([]model.Chain, error)
	RecentCanonicalBlocks(ctx context.Context, chainID string, limit int) ([]model.Block, error)
	MarkBlocksNonCanonical(ctx context.Context, chainID string, from, to uint64) error
	MarkRawEventsNonCanonical(ctx context.Context, chainID string, from, to uint64) error
	MarkIndexedEventsNonCanonical(ctx context.Context, chainID string, from, to uint64) error
	UpdateChainCursor(ctx context.Context, chainID string, height uint64) error
}

// Detector periodically re-verifies recently indexed block hashes against the
// chain and remediates the first mismatch it finds. Scanning is newest-first
// and stops at the first hit; deeper or simultaneous forks are picked up on
// subsequent passes. Remediation flips canonical flags, never deletes.
type Detector struct {
	interval time.Duration
	registry *chain.Registry
	store    Store
	logger   *zap.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup
}

func New(interval time.Duration, registry *chain.Registry, store Store, m *metrics.Metrics, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Detector{
		interval: interval,
		registry: registry,
		store:    store,
		logger:   logger,
		metrics:  m,
	}
}

// Run ticks until ctx is cancelled, then drains in-flight checks.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Detector) tick(ctx context.Context) {
	chains, err := d.store.ActiveChains(ctx)
	if err != nil {
		d.logger.Error("load active chains failed", zap.Error(err))
		return
	}

	for _, c := range chains {
		d.wg.Add(1)
		go func(c model.Chain) {
			defer d.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("reorg check panicked", zap.String("chain_id", c.ChainID), zap.Any("panic", r))
				}
			}()

			if err := d.checkChain(ctx, c); err != nil {
				d.logger.Error("reorg check failed", zap.String("chain_id", c.ChainID), zap.Error(err))
			}
		}(c)
	}
}

// checkChain verifies the most recent 2×confirmationDepth canonical blocks,
// newest first, and remediates the first mismatch.
func (d *Detector) checkChain(ctx context.Context, c model.Chain) error {
	adapter := d.registry.Get(c.ChainID)
	if adapter == nil {
		return nil
	}

	window := 2 * c.ConfirmationDepth
	if window == 0 || c.LatestIndexedBlock < window {
		// Not enough history to be worth checking.
		return nil
	}

	blocks, err := d.store.RecentCanonicalBlocks(ctx, c.ChainID, int(window))
	if err != nil {
		return fmt.Errorf("load recent blocks: %w", err)
	}

	for _, b := range blocks {
		valid, err := adapter.VerifyBlockHash(ctx, b.BlockNumber, b.BlockHash)
		if err != nil {
			// A block the chain no longer knows about is as good as a
			// hash mismatch; transient failures end the pass.
			if !retry.Permanent(err) {
				return fmt.Errorf("verify block %d: %w", b.BlockNumber, err)
			}
			valid = false
		}
		if valid {
			continue
		}

		d.logger.Warn("reorg detected",
			zap.String("chain_id", c.ChainID),
			zap.Uint64("mismatch_height", b.BlockNumber),
			zap.Uint64("cursor", c.LatestIndexedBlock),
		)

		if err := d.remediate(ctx, c, b.BlockNumber); err != nil {
			return fmt.Errorf("remediate from %d: %w", b.BlockNumber, err)
		}
		break
	}
	return nil
}

// remediate invalidates [mismatch, cursor] across blocks, raw events and
// indexed events, then rewinds the cursor to mismatch-1.
func (d *Detector) remediate(ctx context.Context, c model.Chain, mismatch uint64) error {
	to := c.LatestIndexedBlock

	if err := d.store.MarkBlocksNonCanonical(ctx, c.ChainID, mismatch, to); err != nil {
		return fmt.Errorf("mark blocks: %w", err)
	}
	if err := d.store.MarkRawEventsNonCanonical(ctx, c.ChainID, mismatch, to); err != nil {
		return fmt.Errorf("mark raw events: %w", err)
	}
	if err := d.store.MarkIndexedEventsNonCanonical(ctx, c.ChainID, mismatch, to); err != nil {
		return fmt.Errorf("mark indexed events: %w", err)
	}

	rewind := uint64(0)
	if mismatch > 0 {
		rewind = mismatch - 1
	}
	if err := d.store.UpdateChainCursor(ctx, c.ChainID, rewind); err != nil {
		return fmt.Errorf("rewind cursor: %w", err)
	}

	d.metrics.ReorgsDetected.WithLabelValues(c.ChainID).Inc()
	d.metrics.CursorHeight.WithLabelValues(c.ChainID).Set(float64(rewind))

	d.logger.Info("reorg remediated",
		zap.String("chain_id", c.ChainID),
		zap.Uint64("from", mismatch),
		zap.Uint64("to", to),
		zap.Uint64("cursor", rewind),
	)
	return nil
}
