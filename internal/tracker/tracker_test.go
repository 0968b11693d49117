package tracker

import (
	"context"
	"testing"
	"time"

	"chainScope/internal/chain"
	"chainScope/internal/dedup"
	"chainScope/internal/model"
)

type fakeAdapter struct {
	chainID      string
	latest       uint64
	latestCalls  int
	events       []model.RawEvent
	transactions map[uint64][]model.Transaction
	fetchedFrom  uint64
	fetchedTo    uint64
}

func (f *fakeAdapter) Start(context.Context) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error  { return nil }
func (f *fakeAdapter) ChainID() string             { return f.chainID }

func (f *fakeAdapter) LatestHeight(context.Context) (uint64, error) {
	f.latestCalls++
	return f.latest, nil
}

func (f *fakeAdapter) BlockMetadata(_ context.Context, height uint64) (chain.BlockMetadata, error) {
	return chain.BlockMetadata{
		Hash:       "0xhash",
		ParentHash: "0xparent",
		Timestamp:  time.Unix(1700000000, 0).UTC(),
	}, nil
}

func (f *fakeAdapter) FetchBlockRange(_ context.Context, from, to uint64) ([]model.RawEvent, error) {
	f.fetchedFrom, f.fetchedTo = from, to
	return f.events, nil
}

func (f *fakeAdapter) FetchTransactions(_ context.Context, height uint64) ([]model.Transaction, error) {
	return f.transactions[height], nil
}

func (f *fakeAdapter) VerifyBlockHash(context.Context, uint64, string) (bool, error) {
	return true, nil
}

type fakeStore struct {
	chains  []model.Chain
	cursors map[string]uint64
	blocks  []model.Block
	txs     []model.Transaction
	events  []model.RawEvent
	keys    []model.EventKey
}

func newFakeStore(chains ...model.Chain) *fakeStore {
	return &fakeStore{chains: chains, cursors: make(map[string]uint64)}
}

func (f *fakeStore) ActiveChains(context.Context) ([]model.Chain, error) { return f.chains, nil }

func (f *fakeStore) UpdateChainCursor(_ context.Context, chainID string, height uint64) error {
	f.cursors[chainID] = height
	return nil
}

func (f *fakeStore) UpsertBlocks(_ context.Context, blocks []model.Block) error {
	f.blocks = append(f.blocks, blocks...)
	return nil
}

func (f *fakeStore) UpsertTransactions(_ context.Context, txs []model.Transaction) error {
	f.txs = append(f.txs, txs...)
	return nil
}

func (f *fakeStore) InsertRawEvents(_ context.Context, events []model.RawEvent) error {
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeStore) ExistingEventKeys(context.Context, string, []uint64) ([]model.EventKey, error) {
	return f.keys, nil
}

func newTestTracker(store *fakeStore, adapters ...chain.Adapter) *Tracker {
	registry := chain.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	cfg := Config{Interval: time.Second, BatchSize: 5, SeedBuffer: 10}
	return New(cfg, registry, store, dedup.New(store, nil), nil, nil)
}

func TestSeedCursor(t *testing.T) {
	if got := seedCursor(1000, 10); got != 990 {
		t.Fatalf("seedCursor(1000, 10) = %d, want 990", got)
	}
	if got := seedCursor(5, 10); got != 0 {
		t.Fatalf("seedCursor(5, 10) = %d, want 0", got)
	}
	if got := seedCursor(10, 10); got != 0 {
		t.Fatalf("seedCursor(10, 10) = %d, want 0", got)
	}
}

func TestProcessChainAdvancesWindow(t *testing.T) {
	adapter := &fakeAdapter{
		chainID: "1",
		latest:  100,
		events: []model.RawEvent{
			{ChainID: "1", BlockNumber: 81, LogIndex: 0, BlockHash: "0xhash"},
			{ChainID: "1", BlockNumber: 81, LogIndex: 1, BlockHash: "0xhash"},
			{ChainID: "1", BlockNumber: 83, LogIndex: 0, BlockHash: "0xhash"},
		},
		transactions: map[uint64][]model.Transaction{
			81: {{ChainID: "1", BlockNumber: 81, TxHash: "0xt1"}},
		},
	}
	store := newFakeStore()
	tr := newTestTracker(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 80}
	if err := tr.processChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Safe height is 88, so a batch of 5 covers 81-85.
	if adapter.fetchedFrom != 81 || adapter.fetchedTo != 85 {
		t.Fatalf("fetched window = [%d, %d], want [81, 85]", adapter.fetchedFrom, adapter.fetchedTo)
	}
	if store.cursors["1"] != 85 {
		t.Fatalf("cursor = %d, want 85", store.cursors["1"])
	}
	if len(store.blocks) != 5 {
		t.Fatalf("blocks upserted = %d, want 5", len(store.blocks))
	}
	if store.blocks[0].EventCount != 2 || store.blocks[2].EventCount != 1 || store.blocks[1].EventCount != 0 {
		t.Fatalf("event counts mismatch: %+v", store.blocks)
	}
	if !store.blocks[0].IsCanonical {
		t.Fatalf("upserted blocks must be canonical")
	}
	if len(store.txs) != 1 || store.txs[0].TxHash != "0xt1" {
		t.Fatalf("transactions mismatch: %+v", store.txs)
	}
	if len(store.events) != 3 {
		t.Fatalf("raw events inserted = %d, want 3", len(store.events))
	}
}

func TestProcessChainUpToDate(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1", latest: 100}
	store := newFakeStore()
	tr := newTestTracker(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 88}
	if err := tr.processChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adapter.latestCalls != 1 {
		t.Fatalf("latest height calls = %d, want 1", adapter.latestCalls)
	}
	if len(store.blocks) != 0 || len(store.events) != 0 {
		t.Fatalf("up-to-date chain must not write: %+v %+v", store.blocks, store.events)
	}
	if _, ok := store.cursors["1"]; ok {
		t.Fatalf("cursor must not move for an up-to-date chain")
	}
}

func TestProcessChainSeedsFirstRun(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1", latest: 1012}
	store := newFakeStore()
	tr := newTestTracker(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 0}
	if err := tr.processChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Safe height 1000, seed buffer 10: first window is 991-995.
	if adapter.fetchedFrom != 991 || adapter.fetchedTo != 995 {
		t.Fatalf("fetched window = [%d, %d], want [991, 995]", adapter.fetchedFrom, adapter.fetchedTo)
	}
	if store.cursors["1"] != 995 {
		t.Fatalf("cursor = %d, want 995", store.cursors["1"])
	}
}

func TestProcessChainSkipsDuplicateEvents(t *testing.T) {
	adapter := &fakeAdapter{
		chainID: "1",
		latest:  100,
		events: []model.RawEvent{
			{ChainID: "1", BlockNumber: 81, LogIndex: 0},
			{ChainID: "1", BlockNumber: 81, LogIndex: 1},
		},
	}
	store := newFakeStore()
	store.keys = []model.EventKey{{ChainID: "1", BlockNumber: 81, LogIndex: 0}}
	tr := newTestTracker(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 80}
	if err := tr.processChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.events) != 1 || store.events[0].LogIndex != 1 {
		t.Fatalf("stored events mismatch: %+v", store.events)
	}
}

func TestRunStateBlocksOverlap(t *testing.T) {
	state := newRunState()

	if !state.tryStart("1") {
		t.Fatalf("first start must succeed")
	}
	if state.tryStart("1") {
		t.Fatalf("second start must be refused while running")
	}
	if !state.tryStart("2") {
		t.Fatalf("other chains must not be blocked")
	}

	state.finish("1")
	if !state.tryStart("1") {
		t.Fatalf("start must succeed after finish")
	}
}
