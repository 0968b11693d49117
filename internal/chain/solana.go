package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"chainScope/internal/model"
	"chainScope/internal/retry"
)

// SolanaAdapter indexes account/slot-model chains. Slots replace block
// heights, program log strings replace topic/data logs, and the transaction
// fee stands in for a transfer value.
type SolanaAdapter struct {
	chainID   string
	name      string
	rpcURL    string
	retryOpts retry.Options
	logger    *zap.Logger

	client *rpc.Client
}

func NewSolanaAdapter(chainID, name, rpcURL string, retryOpts retry.Options, logger *zap.Logger) *SolanaAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SolanaAdapter{
		chainID:   chainID,
		name:      name,
		rpcURL:    rpcURL,
		retryOpts: retryOpts,
		logger:    logger.With(zap.String("chain_id", chainID)),
	}
}

func (a *SolanaAdapter) ChainID() string { return a.chainID }

// Start creates the RPC client and probes the cluster version.
func (a *SolanaAdapter) Start(ctx context.Context) error {
	a.client = rpc.New(a.rpcURL)

	version, err := retry.Do(ctx, a.logger, a.retryOpts, "cluster_version", func(ctx context.Context) (*rpc.GetVersionResult, error) {
		return a.client.GetVersion(ctx)
	})
	if err != nil {
		return fmt.Errorf("probe cluster version for %s: %w", a.name, err)
	}

	a.logger.Info("solana adapter started", zap.String("name", a.name), zap.String("solana_core", version.SolanaCore))
	return nil
}

func (a *SolanaAdapter) Stop(_ context.Context) error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *SolanaAdapter) LatestHeight(ctx context.Context) (uint64, error) {
	return retry.Do(ctx, a.logger, a.retryOpts, "latest_slot", func(ctx context.Context) (uint64, error) {
		return a.client.GetSlot(ctx, rpc.CommitmentFinalized)
	})
}

func (a *SolanaAdapter) BlockMetadata(ctx context.Context, height uint64) (BlockMetadata, error) {
	block, err := a.getBlock(ctx, height, rpc.TransactionDetailsNone)
	if err != nil {
		return BlockMetadata{}, err
	}
	return BlockMetadata{
		Hash:       block.Blockhash.String(),
		ParentHash: block.PreviousBlockhash.String(),
		Timestamp:  blockTime(block),
	}, nil
}

// FetchBlockRange walks the slots sequentially. Skipped slots are reported by
// the RPC as permanent absent-data errors and silently omitted.
func (a *SolanaAdapter) FetchBlockRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	events := make([]model.RawEvent, 0)
	for slot := from; slot <= to; slot++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		slotEvents, err := a.fetchSlotEvents(ctx, slot)
		if err != nil {
			if retry.Permanent(err) {
				a.logger.Debug("slot skipped", zap.Uint64("slot", slot))
				continue
			}
			a.logger.Warn("slot fetch failed", zap.Uint64("slot", slot), zap.Error(err))
			continue
		}
		events = append(events, slotEvents...)

		time.Sleep(fallbackDelay)
	}
	return events, nil
}

func (a *SolanaAdapter) fetchSlotEvents(ctx context.Context, slot uint64) ([]model.RawEvent, error) {
	block, err := a.getBlock(ctx, slot, rpc.TransactionDetailsFull)
	if err != nil {
		return nil, err
	}

	logs := make([]txLogs, 0, len(block.Transactions))
	for _, txm := range block.Transactions {
		stx, err := txm.GetTransaction()
		if err != nil || stx == nil || len(stx.Signatures) == 0 {
			continue
		}
		if txm.Meta == nil {
			continue
		}
		logs = append(logs, txLogs{
			signature: stx.Signatures[0].String(),
			messages:  txm.Meta.LogMessages,
		})
	}
	return a.slotEvents(slot, block.Blockhash.String(), blockTime(block), logs), nil
}

// txLogs is one transaction's log messages in block order.
type txLogs struct {
	signature string
	messages  []string
}

// slotEvents flattens the slot's per-transaction logs into raw events with a
// slot-wide log index, so logs from different transactions in the same slot
// never collide on the (chain, block, log index) storage key.
func (a *SolanaAdapter) slotEvents(slot uint64, blockHash string, ts time.Time, logs []txLogs) []model.RawEvent {
	events := make([]model.RawEvent, 0)
	logIndex := uint64(0)
	for _, tl := range logs {
		program := ""
		for _, message := range tl.messages {
			if id, ok := invokedProgram(message); ok {
				program = id
			}
			events = append(events, model.RawEvent{
				ChainID:         a.chainID,
				BlockNumber:     slot,
				BlockHash:       blockHash,
				TxHash:          tl.signature,
				LogIndex:        logIndex,
				ContractAddress: program,
				Topics:          nil,
				Data:            message,
				IsCanonical:     true,
				BlockTimestamp:  ts,
			})
			logIndex++
		}
	}
	return events
}

// FetchTransactions extracts the block's transactions. Solana has no single
// "value" field, so the fee paid by the fee payer is used as an approximation.
func (a *SolanaAdapter) FetchTransactions(ctx context.Context, height uint64) ([]model.Transaction, error) {
	block, err := a.getBlock(ctx, height, rpc.TransactionDetailsFull)
	if err != nil {
		return nil, err
	}

	ts := blockTime(block)
	txs := make([]model.Transaction, 0, len(block.Transactions))
	for _, txm := range block.Transactions {
		stx, err := txm.GetTransaction()
		if err != nil || stx == nil || len(stx.Signatures) == 0 {
			continue
		}

		keys := stx.Message.AccountKeys
		if len(keys) == 0 {
			continue
		}
		to := ""
		if len(keys) > 1 {
			to = keys[1].String()
		}

		fee := uint64(0)
		if txm.Meta != nil {
			fee = txm.Meta.Fee
		}

		input, err := json.Marshal(stx.Message)
		if err != nil {
			input = nil
		}

		txs = append(txs, model.Transaction{
			ChainID:     a.chainID,
			BlockNumber: height,
			BlockHash:   block.Blockhash.String(),
			TxHash:      stx.Signatures[0].String(),
			FromAddress: keys[0].String(),
			ToAddress:   to,
			Value:       fmt.Sprintf("%d", fee),
			InputData:   string(input),
			Timestamp:   ts,
			IsCanonical: true,
		})
	}
	return txs, nil
}

func (a *SolanaAdapter) VerifyBlockHash(ctx context.Context, height uint64, expected string) (bool, error) {
	block, err := a.getBlock(ctx, height, rpc.TransactionDetailsNone)
	if err != nil {
		return false, err
	}
	return block.Blockhash.String() == expected, nil
}

func (a *SolanaAdapter) getBlock(ctx context.Context, slot uint64, details rpc.TransactionDetailsType) (*rpc.GetBlockResult, error) {
	maxTxVersion := uint64(0)
	includeRewards := false

	block, err := retry.Do(ctx, a.logger, a.retryOpts, "get_block", func(ctx context.Context) (*rpc.GetBlockResult, error) {
		return a.client.GetBlockWithOpts(ctx, slot, &rpc.GetBlockOpts{
			TransactionDetails:             details,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxTxVersion,
			Rewards:                        &includeRewards,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", slot, err)
	}
	if block == nil {
		return nil, fmt.Errorf("slot %d not found", slot)
	}
	return block, nil
}

func blockTime(block *rpc.GetBlockResult) time.Time {
	if block.BlockTime != nil {
		return block.BlockTime.Time().UTC()
	}
	return time.Unix(0, 0).UTC()
}

// invokedProgram parses "Program <id> invoke [n]" log lines so subsequent
// log messages can be attributed to the invoking program.
func invokedProgram(message string) (string, bool) {
	fields := strings.Fields(message)
	if len(fields) >= 3 && fields[0] == "Program" && fields[2] == "invoke" {
		return fields[1], true
	}
	return "", false
}
