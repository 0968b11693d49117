package indexer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chainScope/internal/enrich"
	"chainScope/internal/metrics"
	"chainScope/internal/model"
	"chainScope/internal/normalize"
	"chainScope/internal/publish"
)

// Store is the persistence surface the indexer drains and writes through.
type Store interface {
	UnprocessedRawEvents(ctx context.Context, limit int) ([]model.RawEvent, error)
	MarkRawEventProcessed(ctx context.Context, id string) error
	InsertIndexedEvent(ctx context.Context, event model.IndexedEvent) error
}

// Config holds the indexer's runtime settings.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Indexer drains unprocessed raw events through normalize → enrich → persist
// → publish. Runs are single-flight: a tick that finds the previous run still
// going is a silent no-op.
type Indexer struct {
	cfg        Config
	store      Store
	normalizer *normalize.Normalizer
	enricher   *enrich.Enricher
	publisher  publish.Publisher
	logger     *zap.Logger
	metrics    *metrics.Metrics

	busy atomic.Bool
}

func New(cfg Config, store Store, normalizer *normalize.Normalizer, enricher *enrich.Enricher, publisher publish.Publisher, m *metrics.Metrics, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if publisher == nil {
		publisher = publish.Nop{}
	}
	return &Indexer{
		cfg:        cfg,
		store:      store,
		normalizer: normalizer,
		enricher:   enricher,
		publisher:  publisher,
		logger:     logger,
		metrics:    m,
	}
}

// Run ticks until ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context) {
	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ix.tick(ctx)
		}
	}
}

func (ix *Indexer) tick(ctx context.Context) {
	if !ix.busy.CompareAndSwap(false, true) {
		return
	}
	defer ix.busy.Store(false)

	if err := ix.ProcessBatch(ctx); err != nil {
		ix.logger.Error("batch processing failed", zap.Error(err))
	}
}

// ProcessBatch claims one batch of canonical unprocessed raw events in
// (block number, log index) order and processes each independently. An event
// is marked processed after any attempt — including a null normalization —
// so malformed data never loops; only a failed step (store, publish) leaves
// it unprocessed for the next tick.
func (ix *Indexer) ProcessBatch(ctx context.Context) error {
	rawEvents, err := ix.store.UnprocessedRawEvents(ctx, ix.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(rawEvents) == 0 {
		return nil
	}

	ix.logger.Debug("processing raw events", zap.Int("count", len(rawEvents)))

	indexed := 0
	for _, raw := range rawEvents {
		if err := ix.processOne(ctx, raw, &indexed); err != nil {
			ix.logger.Error("event processing failed",
				zap.String("raw_event_id", raw.ID),
				zap.String("chain_id", raw.ChainID),
				zap.Error(err),
			)
		}
	}

	if indexed > 0 {
		ix.logger.Info("indexed events", zap.Int("count", indexed))
	}
	return nil
}

func (ix *Indexer) processOne(ctx context.Context, raw model.RawEvent, indexed *int) error {
	event := ix.normalizer.Normalize(raw)
	if event != nil {
		event.ID = uuid.NewString()

		if _, err := ix.enricher.Enrich(ctx, event); err != nil {
			return err
		}
		if err := ix.store.InsertIndexedEvent(ctx, *event); err != nil {
			return err
		}
		if err := ix.publisher.Publish(ctx, publish.RoutingKey(event.EventType), *event); err != nil {
			ix.metrics.PublishFailures.Inc()
			return err
		}

		ix.metrics.EventsIndexed.WithLabelValues(event.ChainID, event.EventType).Inc()
		*indexed++
	}

	return ix.store.MarkRawEventProcessed(ctx, raw.ID)
}
