package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chainScope/internal/model"
)

// upsertChunkSize bounds the rows per SendBatch so one window never turns
// into a single giant transaction.
const upsertChunkSize = 500

// Store provides Postgres persistence for the ingestion pipeline.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the schema DDL. All statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// EnsureChain inserts the chain row if absent. Existing rows keep their
// cursor and active flag.
func (s *Store) EnsureChain(ctx context.Context, c model.Chain) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chains (chain_id, name, family, rpc_url, ws_url, is_active, confirmation_depth, latest_indexed_block)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '0')
		ON CONFLICT (chain_id) DO NOTHING
	`, c.ChainID, c.Name, c.Family, c.RPCURL, nullable(c.WSURL), c.IsActive, int64(c.ConfirmationDepth))
	return err
}

// ActiveChains returns every chain with the active flag set.
func (s *Store) ActiveChains(ctx context.Context) ([]model.Chain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, name, family, rpc_url, COALESCE(ws_url, ''), is_active, confirmation_depth, latest_indexed_block
		FROM chains
		WHERE is_active = TRUE
		ORDER BY chain_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chains := make([]model.Chain, 0)
	for rows.Next() {
		var c model.Chain
		var depth int64
		var cursor string
		if err := rows.Scan(&c.ChainID, &c.Name, &c.Family, &c.RPCURL, &c.WSURL, &c.IsActive, &depth, &cursor); err != nil {
			return nil, err
		}
		c.ConfirmationDepth = uint64(depth)
		c.LatestIndexedBlock, err = parseHeight(cursor)
		if err != nil {
			return nil, fmt.Errorf("chain %s cursor: %w", c.ChainID, err)
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}

// UpdateChainCursor sets latest_indexed_block. Used by the tracker to advance
// and the reorg remediator to rewind; last writer wins.
func (s *Store) UpdateChainCursor(ctx context.Context, chainID string, height uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chains SET latest_indexed_block = $2 WHERE chain_id = $1
	`, chainID, formatHeight(height))
	return err
}

// UpsertBlocks writes block headers in chunks. Re-ingesting a block that was
// reorged out and back in flips it canonical again.
func (s *Store) UpsertBlocks(ctx context.Context, blocks []model.Block) error {
	for start := 0; start < len(blocks); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(blocks))

		batch := &pgx.Batch{}
		for _, b := range blocks[start:end] {
			batch.Queue(`
				INSERT INTO blocks (chain_id, block_number, block_hash, parent_hash, timestamp, is_canonical, event_count)
				VALUES ($1, $2, $3, $4, $5, TRUE, $6)
				ON CONFLICT (chain_id, block_number, block_hash)
				DO UPDATE SET is_canonical = TRUE, event_count = EXCLUDED.event_count
			`, b.ChainID, formatHeight(b.BlockNumber), b.BlockHash, b.ParentHash, b.Timestamp, int64(b.EventCount))
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert blocks: %w", err)
		}
	}
	return nil
}

// UpsertTransactions writes transactions in chunks, keyed on (chain, tx hash).
func (s *Store) UpsertTransactions(ctx context.Context, txs []model.Transaction) error {
	for start := 0; start < len(txs); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(txs))

		batch := &pgx.Batch{}
		for _, tx := range txs[start:end] {
			batch.Queue(`
				INSERT INTO transactions (chain_id, block_number, block_hash, tx_hash, from_address, to_address, value, input_data, timestamp, is_canonical)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
				ON CONFLICT (chain_id, tx_hash)
				DO UPDATE SET
					block_number = EXCLUDED.block_number,
					block_hash = EXCLUDED.block_hash,
					from_address = EXCLUDED.from_address,
					to_address = EXCLUDED.to_address,
					value = EXCLUDED.value,
					input_data = EXCLUDED.input_data,
					timestamp = EXCLUDED.timestamp,
					is_canonical = TRUE
			`, tx.ChainID, formatHeight(tx.BlockNumber), tx.BlockHash, tx.TxHash, tx.FromAddress,
				nullable(tx.ToAddress), tx.Value, tx.InputData, tx.Timestamp)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("upsert transactions: %w", err)
		}
	}
	return nil
}

// InsertRawEvents writes raw events in chunks. The unique key on
// (chain, block, log index) is the authoritative dedup backstop, so conflicts
// are silently dropped.
func (s *Store) InsertRawEvents(ctx context.Context, events []model.RawEvent) error {
	for start := 0; start < len(events); start += upsertChunkSize {
		end := min(start+upsertChunkSize, len(events))

		batch := &pgx.Batch{}
		for _, e := range events[start:end] {
			topics, err := json.Marshal(e.Topics)
			if err != nil {
				return fmt.Errorf("marshal topics: %w", err)
			}
			id := e.ID
			if id == "" {
				id = uuid.NewString()
			}
			batch.Queue(`
				INSERT INTO raw_events (id, chain_id, block_number, block_hash, tx_hash, log_index, contract_address, topics, data, is_canonical, is_processed, block_timestamp)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, FALSE, $10)
				ON CONFLICT (chain_id, block_number, log_index) DO NOTHING
			`, id, e.ChainID, formatHeight(e.BlockNumber), e.BlockHash, e.TxHash, int64(e.LogIndex),
				e.ContractAddress, string(topics), e.Data, e.BlockTimestamp)
		}
		if err := s.sendBatch(ctx, batch); err != nil {
			return fmt.Errorf("insert raw events: %w", err)
		}
	}
	return nil
}

// ExistingEventKeys returns the canonical raw-event keys already stored for
// the chain at the given block numbers.
func (s *Store) ExistingEventKeys(ctx context.Context, chainID string, blockNumbers []uint64) ([]model.EventKey, error) {
	if len(blockNumbers) == 0 {
		return nil, nil
	}

	heights := make([]string, 0, len(blockNumbers))
	for _, n := range blockNumbers {
		heights = append(heights, formatHeight(n))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, block_number, log_index
		FROM raw_events
		WHERE chain_id = $1 AND block_number = ANY($2) AND is_canonical = TRUE
	`, chainID, heights)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]model.EventKey, 0)
	for rows.Next() {
		var key model.EventKey
		var height string
		var logIndex int64
		if err := rows.Scan(&key.ChainID, &height, &logIndex); err != nil {
			return nil, err
		}
		key.BlockNumber, err = parseHeight(height)
		if err != nil {
			return nil, err
		}
		key.LogIndex = uint64(logIndex)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// RecentCanonicalBlocks returns up to limit canonical blocks for the chain,
// newest first.
func (s *Store) RecentCanonicalBlocks(ctx context.Context, chainID string, limit int) ([]model.Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, block_number, block_hash, parent_hash, timestamp, is_canonical, event_count
		FROM blocks
		WHERE chain_id = $1 AND is_canonical = TRUE
		ORDER BY (block_number)::numeric DESC
		LIMIT $2
	`, chainID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocks := make([]model.Block, 0, limit)
	for rows.Next() {
		var b model.Block
		var height string
		var count int64
		if err := rows.Scan(&b.ChainID, &height, &b.BlockHash, &b.ParentHash, &b.Timestamp, &b.IsCanonical, &count); err != nil {
			return nil, err
		}
		b.BlockNumber, err = parseHeight(height)
		if err != nil {
			return nil, err
		}
		b.EventCount = uint64(count)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// MarkBlocksNonCanonical flips blocks in [from, to] to non-canonical.
func (s *Store) MarkBlocksNonCanonical(ctx context.Context, chainID string, from, to uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE blocks SET is_canonical = FALSE
		WHERE chain_id = $1 AND (block_number)::numeric BETWEEN $2 AND $3
	`, chainID, int64(from), int64(to))
	return err
}

// MarkRawEventsNonCanonical flips raw events in [from, to] to non-canonical.
func (s *Store) MarkRawEventsNonCanonical(ctx context.Context, chainID string, from, to uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_events SET is_canonical = FALSE
		WHERE chain_id = $1 AND (block_number)::numeric BETWEEN $2 AND $3
	`, chainID, int64(from), int64(to))
	return err
}

// MarkIndexedEventsNonCanonical flips indexed events in [from, to] to
// non-canonical.
func (s *Store) MarkIndexedEventsNonCanonical(ctx context.Context, chainID string, from, to uint64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE indexed_events SET is_canonical = FALSE
		WHERE chain_id = $1 AND (block_number)::numeric BETWEEN $2 AND $3
	`, chainID, int64(from), int64(to))
	return err
}

// UnprocessedRawEvents returns up to limit canonical unprocessed raw events
// ordered by (block number, log index) so same-block ordering is preserved
// downstream.
func (s *Store) UnprocessedRawEvents(ctx context.Context, limit int) ([]model.RawEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chain_id, block_number, block_hash, tx_hash, log_index, contract_address, topics, data, is_canonical, is_processed, block_timestamp
		FROM raw_events
		WHERE is_processed = FALSE AND is_canonical = TRUE
		ORDER BY (block_number)::numeric ASC, log_index ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.RawEvent, 0)
	for rows.Next() {
		var e model.RawEvent
		var height, topics string
		var logIndex int64
		if err := rows.Scan(&e.ID, &e.ChainID, &height, &e.BlockHash, &e.TxHash, &logIndex,
			&e.ContractAddress, &topics, &e.Data, &e.IsCanonical, &e.IsProcessed, &e.BlockTimestamp); err != nil {
			return nil, err
		}
		e.BlockNumber, err = parseHeight(height)
		if err != nil {
			return nil, err
		}
		e.LogIndex = uint64(logIndex)
		if err := json.Unmarshal([]byte(topics), &e.Topics); err != nil {
			return nil, fmt.Errorf("unmarshal topics for event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkRawEventProcessed sets the processed flag for one raw event.
func (s *Store) MarkRawEventProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE raw_events SET is_processed = TRUE WHERE id = $1`, id)
	return err
}

// InsertIndexedEvent writes one normalized event. The unique key on
// raw_event_id makes a re-run of a partially failed indexing step a no-op
// instead of a duplicate row.
func (s *Store) InsertIndexedEvent(ctx context.Context, e model.IndexedEvent) error {
	decoded, err := json.Marshal(e.DecodedData)
	if err != nil {
		return fmt.Errorf("marshal decoded data: %w", err)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO indexed_events (id, raw_event_id, chain_id, block_number, tx_hash, event_type, contract_address, from_address, to_address, value, decoded_data, is_canonical, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (raw_event_id) DO NOTHING
	`, id, e.RawEventID, e.ChainID, formatHeight(e.BlockNumber), e.TxHash, e.EventType,
		e.ContractAddress, nullable(e.FromAddress), nullable(e.ToAddress), nullable(e.Value),
		decoded, e.IsCanonical, e.Timestamp)
	return err
}

// GetContract returns contract metadata, or nil when none is stored.
func (s *Store) GetContract(ctx context.Context, chainID, address string) (*model.Contract, error) {
	var c model.Contract
	row := s.pool.QueryRow(ctx, `
		SELECT chain_id, address, COALESCE(name, ''), COALESCE(symbol, ''), COALESCE(contract_type, '')
		FROM contracts
		WHERE chain_id = $1 AND address = $2
	`, chainID, address)
	if err := row.Scan(&c.ChainID, &c.Address, &c.Name, &c.Symbol, &c.ContractType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func formatHeight(height uint64) string {
	return strconv.FormatUint(height, 10)
}

func parseHeight(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
