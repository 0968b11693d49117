package reorg

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainScope/internal/chain"
	"chainScope/internal/model"
)

type fakeAdapter struct {
	chainID   string
	badBlocks map[uint64]bool
	missing   map[uint64]bool
	verified  []uint64
}

func (f *fakeAdapter) Start(context.Context) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error  { return nil }
func (f *fakeAdapter) ChainID() string             { return f.chainID }

func (f *fakeAdapter) LatestHeight(context.Context) (uint64, error) { return 0, nil }

func (f *fakeAdapter) BlockMetadata(context.Context, uint64) (chain.BlockMetadata, error) {
	return chain.BlockMetadata{}, nil
}

func (f *fakeAdapter) FetchBlockRange(context.Context, uint64, uint64) ([]model.RawEvent, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchTransactions(context.Context, uint64) ([]model.Transaction, error) {
	return nil, nil
}

func (f *fakeAdapter) VerifyBlockHash(_ context.Context, height uint64, _ string) (bool, error) {
	f.verified = append(f.verified, height)
	if f.missing[height] {
		return false, errors.New("block not found")
	}
	return !f.badBlocks[height], nil
}

type markedRange struct{ from, to uint64 }

type fakeStore struct {
	chains       []model.Chain
	recent       []model.Block
	recentCalls  int
	blocksMarked []markedRange
	rawMarked    []markedRange
	idxMarked    []markedRange
	cursors      map[string]uint64
}

func (f *fakeStore) ActiveChains(context.Context) ([]model.Chain, error) { return f.chains, nil }

func (f *fakeStore) RecentCanonicalBlocks(_ context.Context, _ string, limit int) ([]model.Block, error) {
	f.recentCalls++
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeStore) MarkBlocksNonCanonical(_ context.Context, _ string, from, to uint64) error {
	f.blocksMarked = append(f.blocksMarked, markedRange{from, to})
	return nil
}

func (f *fakeStore) MarkRawEventsNonCanonical(_ context.Context, _ string, from, to uint64) error {
	f.rawMarked = append(f.rawMarked, markedRange{from, to})
	return nil
}

func (f *fakeStore) MarkIndexedEventsNonCanonical(_ context.Context, _ string, from, to uint64) error {
	f.idxMarked = append(f.idxMarked, markedRange{from, to})
	return nil
}

func (f *fakeStore) UpdateChainCursor(_ context.Context, chainID string, height uint64) error {
	if f.cursors == nil {
		f.cursors = make(map[string]uint64)
	}
	f.cursors[chainID] = height
	return nil
}

// recentBlocks builds the newest-first window the store would return.
func recentBlocks(chainID string, newest, count uint64) []model.Block {
	blocks := make([]model.Block, 0, count)
	for i := uint64(0); i < count; i++ {
		blocks = append(blocks, model.Block{
			ChainID:     chainID,
			BlockNumber: newest - i,
			BlockHash:   "0xstored",
			IsCanonical: true,
		})
	}
	return blocks
}

func newTestDetector(store *fakeStore, adapters ...chain.Adapter) *Detector {
	registry := chain.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	return New(time.Second, registry, store, nil, nil)
}

func TestCheckChainRemediatesMismatch(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1", badBlocks: map[uint64]bool{95: true, 94: true}}
	store := &fakeStore{recent: recentBlocks("1", 100, 24)}
	d := newTestDetector(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 100}
	if err := d.checkChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Newest-first scan hits 95 first; 94 is left for the next pass.
	want := markedRange{95, 100}
	if len(store.blocksMarked) != 1 || store.blocksMarked[0] != want {
		t.Fatalf("blocks marked = %+v, want [%+v]", store.blocksMarked, want)
	}
	if len(store.rawMarked) != 1 || store.rawMarked[0] != want {
		t.Fatalf("raw events marked = %+v, want [%+v]", store.rawMarked, want)
	}
	if len(store.idxMarked) != 1 || store.idxMarked[0] != want {
		t.Fatalf("indexed events marked = %+v, want [%+v]", store.idxMarked, want)
	}
	if store.cursors["1"] != 94 {
		t.Fatalf("cursor = %d, want 94", store.cursors["1"])
	}
	if len(adapter.verified) != 6 {
		t.Fatalf("verified %d blocks, want 6 (stop at first mismatch)", len(adapter.verified))
	}
}

func TestCheckChainCleanWindow(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1"}
	store := &fakeStore{recent: recentBlocks("1", 100, 24)}
	d := newTestDetector(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 100}
	if err := d.checkChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.blocksMarked) != 0 {
		t.Fatalf("clean window must not remediate: %+v", store.blocksMarked)
	}
	if len(adapter.verified) != 24 {
		t.Fatalf("verified %d blocks, want 24", len(adapter.verified))
	}
	if _, ok := store.cursors["1"]; ok {
		t.Fatalf("cursor must not move for a clean window")
	}
}

func TestCheckChainSkipsShortHistory(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1"}
	store := &fakeStore{}
	d := newTestDetector(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 20}
	if err := d.checkChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.recentCalls != 0 {
		t.Fatalf("short history must not be scanned")
	}
}

func TestCheckChainTreatsAbsentBlockAsMismatch(t *testing.T) {
	adapter := &fakeAdapter{chainID: "1", missing: map[uint64]bool{98: true}}
	store := &fakeStore{recent: recentBlocks("1", 100, 24)}
	d := newTestDetector(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 100}
	if err := d.checkChain(context.Background(), c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := markedRange{98, 100}
	if len(store.blocksMarked) != 1 || store.blocksMarked[0] != want {
		t.Fatalf("blocks marked = %+v, want [%+v]", store.blocksMarked, want)
	}
	if store.cursors["1"] != 97 {
		t.Fatalf("cursor = %d, want 97", store.cursors["1"])
	}
}

func TestCheckChainStopsOnTransientError(t *testing.T) {
	adapter := &transientAdapter{fakeAdapter: fakeAdapter{chainID: "1"}}
	store := &fakeStore{recent: recentBlocks("1", 100, 24)}
	d := newTestDetector(store, adapter)

	c := model.Chain{ChainID: "1", ConfirmationDepth: 12, LatestIndexedBlock: 100}
	if err := d.checkChain(context.Background(), c); err == nil {
		t.Fatalf("expected error for transient verify failure")
	}
	if len(store.blocksMarked) != 0 {
		t.Fatalf("transient failure must not remediate: %+v", store.blocksMarked)
	}
}

type transientAdapter struct{ fakeAdapter }

func (a *transientAdapter) VerifyBlockHash(context.Context, uint64, string) (bool, error) {
	return false, errors.New("503 service unavailable")
}
