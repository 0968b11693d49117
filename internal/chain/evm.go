package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"chainScope/internal/model"
	"chainScope/internal/retry"
)

const (
	// fallbackDelay paces per-height log queries when the bulk range
	// query has failed, trading latency for rate-limit headroom.
	fallbackDelay = 100 * time.Millisecond

	// txFetchBatch bounds concurrent transaction lookups per block.
	txFetchBatch = 8
	txBatchPause = 50 * time.Millisecond
)

// EVMAdapter indexes log/topic-model chains over JSON-RPC.
type EVMAdapter struct {
	chainID   string
	name      string
	rpcURL    string
	retryOpts retry.Options
	logger    *zap.Logger

	rpcClient *rpc.Client
	ethClient *ethclient.Client
	signer    types.Signer

	mu      sync.RWMutex
	tsCache map[uint64]time.Time
}

// NewEVMAdapter builds an adapter for one EVM network. The connection is not
// dialed until Start.
func NewEVMAdapter(chainID, name, rpcURL string, retryOpts retry.Options, logger *zap.Logger) *EVMAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMAdapter{
		chainID:   chainID,
		name:      name,
		rpcURL:    rpcURL,
		retryOpts: retryOpts,
		logger:    logger.With(zap.String("chain_id", chainID)),
		tsCache:   make(map[uint64]time.Time),
	}
}

func (a *EVMAdapter) ChainID() string { return a.chainID }

// Start dials the endpoint and probes the network id.
func (a *EVMAdapter) Start(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, a.rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.name, err)
	}
	a.rpcClient = rpcClient
	a.ethClient = ethclient.NewClient(rpcClient)

	networkID, err := retry.Do(ctx, a.logger, a.retryOpts, "chain_id", func(ctx context.Context) (*big.Int, error) {
		return a.ethClient.ChainID(ctx)
	})
	if err != nil {
		return fmt.Errorf("probe network id for %s: %w", a.name, err)
	}
	a.signer = types.LatestSignerForChainID(networkID)

	a.logger.Info("evm adapter started", zap.String("name", a.name), zap.String("network_id", networkID.String()))
	return nil
}

func (a *EVMAdapter) Stop(_ context.Context) error {
	if a.rpcClient != nil {
		a.rpcClient.Close()
	}
	return nil
}

func (a *EVMAdapter) LatestHeight(ctx context.Context) (uint64, error) {
	return retry.Do(ctx, a.logger, a.retryOpts, "latest_height", func(ctx context.Context) (uint64, error) {
		return a.ethClient.BlockNumber(ctx)
	})
}

func (a *EVMAdapter) BlockMetadata(ctx context.Context, height uint64) (BlockMetadata, error) {
	header, err := a.headerByNumber(ctx, height)
	if err != nil {
		return BlockMetadata{}, err
	}
	return BlockMetadata{
		Hash:       header.Hash().Hex(),
		ParentHash: header.ParentHash.Hex(),
		Timestamp:  time.Unix(int64(header.Time), 0).UTC(),
	}, nil
}

// FetchBlockRange issues one bulk log query for the range and falls back to
// sequential per-height queries when the bulk path fails.
func (a *EVMAdapter) FetchBlockRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	logs, err := retry.Do(ctx, a.logger, a.retryOpts, "filter_logs", func(ctx context.Context) ([]types.Log, error) {
		return a.filterLogs(ctx, from, to)
	})
	if err != nil {
		a.logger.Warn("bulk log query failed, falling back to per-height queries",
			zap.Uint64("from", from), zap.Uint64("to", to), zap.Error(err))
		return a.fetchRangeSequential(ctx, from, to)
	}
	return a.buildRawEvents(ctx, logs)
}

func (a *EVMAdapter) fetchRangeSequential(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	events := make([]model.RawEvent, 0)
	for height := from; height <= to; height++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logs, err := retry.Do(ctx, a.logger, a.retryOpts, "filter_logs_single", func(ctx context.Context) ([]types.Log, error) {
			return a.filterLogs(ctx, height, height)
		})
		if err != nil {
			a.logger.Warn("per-height log query failed", zap.Uint64("height", height), zap.Error(err))
			continue
		}

		built, err := a.buildRawEvents(ctx, logs)
		if err != nil {
			return nil, err
		}
		events = append(events, built...)

		time.Sleep(fallbackDelay)
	}
	return events, nil
}

func (a *EVMAdapter) filterLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}
	return a.ethClient.FilterLogs(ctx, query)
}

func (a *EVMAdapter) buildRawEvents(ctx context.Context, logs []types.Log) ([]model.RawEvent, error) {
	events := make([]model.RawEvent, 0, len(logs))
	for _, log := range logs {
		ts, err := a.blockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("timestamp for block %d: %w", log.BlockNumber, err)
		}

		topics := make([]string, 0, len(log.Topics))
		for _, topic := range log.Topics {
			topics = append(topics, topic.Hex())
		}

		events = append(events, model.RawEvent{
			ChainID:         a.chainID,
			BlockNumber:     log.BlockNumber,
			BlockHash:       log.BlockHash.Hex(),
			TxHash:          log.TxHash.Hex(),
			LogIndex:        uint64(log.Index),
			ContractAddress: strings.ToLower(log.Address.Hex()),
			Topics:          topics,
			Data:            hexutil.Encode(log.Data),
			IsCanonical:     true,
			BlockTimestamp:  ts,
		})
	}
	return events, nil
}

// FetchTransactions resolves the block's transactions with bounded-concurrency
// child lookups to respect upstream rate limits.
func (a *EVMAdapter) FetchTransactions(ctx context.Context, height uint64) ([]model.Transaction, error) {
	header, err := a.headerByNumber(ctx, height)
	if err != nil {
		return nil, err
	}
	blockHash := header.Hash()

	count, err := retry.Do(ctx, a.logger, a.retryOpts, "tx_count", func(ctx context.Context) (uint, error) {
		return a.ethClient.TransactionCount(ctx, blockHash)
	})
	if err != nil {
		return nil, fmt.Errorf("transaction count for block %d: %w", height, err)
	}

	txs := make([]*types.Transaction, count)
	for start := uint(0); start < count; start += txFetchBatch {
		end := start + txFetchBatch
		if end > count {
			end = count
		}

		var wg sync.WaitGroup
		errs := make([]error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i uint) {
				defer wg.Done()
				tx, err := retry.Do(ctx, a.logger, a.retryOpts, "tx_in_block", func(ctx context.Context) (*types.Transaction, error) {
					return a.ethClient.TransactionInBlock(ctx, blockHash, i)
				})
				if err != nil {
					errs[i-start] = err
					return
				}
				txs[i] = tx
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				// Partial responses are tolerated; the missing entry
				// stays nil and is skipped below.
				a.logger.Warn("transaction lookup failed", zap.Uint64("height", height), zap.Error(err))
			}
		}

		if end < count {
			time.Sleep(txBatchPause)
		}
	}

	ts := time.Unix(int64(header.Time), 0).UTC()
	out := make([]model.Transaction, 0, count)
	for _, tx := range txs {
		if tx == nil {
			continue
		}

		from, err := types.Sender(a.signer, tx)
		if err != nil {
			a.logger.Warn("sender recovery failed", zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
			continue
		}

		to := ""
		if tx.To() != nil {
			to = strings.ToLower(tx.To().Hex())
		}

		out = append(out, model.Transaction{
			ChainID:     a.chainID,
			BlockNumber: height,
			BlockHash:   blockHash.Hex(),
			TxHash:      tx.Hash().Hex(),
			FromAddress: strings.ToLower(from.Hex()),
			ToAddress:   to,
			Value:       tx.Value().String(),
			InputData:   hexutil.Encode(tx.Data()),
			Timestamp:   ts,
			IsCanonical: true,
		})
	}
	return out, nil
}

func (a *EVMAdapter) VerifyBlockHash(ctx context.Context, height uint64, expected string) (bool, error) {
	header, err := a.headerByNumber(ctx, height)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(header.Hash().Hex(), expected), nil
}

func (a *EVMAdapter) headerByNumber(ctx context.Context, height uint64) (*types.Header, error) {
	header, err := retry.Do(ctx, a.logger, a.retryOpts, "header_by_number", func(ctx context.Context) (*types.Header, error) {
		return a.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	})
	if err != nil {
		return nil, fmt.Errorf("header %d: %w", height, err)
	}

	a.mu.Lock()
	a.tsCache[height] = time.Unix(int64(header.Time), 0).UTC()
	a.mu.Unlock()

	return header, nil
}

func (a *EVMAdapter) blockTimestamp(ctx context.Context, height uint64) (time.Time, error) {
	a.mu.RLock()
	ts, ok := a.tsCache[height]
	a.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := a.headerByNumber(ctx, height)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}
