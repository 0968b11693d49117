package postgres

// Block numbers are stored as text so arbitrarily large heights fit; every
// range predicate casts to numeric so comparisons are integer comparisons,
// never lexicographic.
const schema = `
CREATE TABLE IF NOT EXISTS chains (
	chain_id             TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	family               TEXT NOT NULL,
	rpc_url              TEXT NOT NULL,
	ws_url               TEXT,
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	confirmation_depth   BIGINT NOT NULL DEFAULT 12,
	latest_indexed_block TEXT NOT NULL DEFAULT '0',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blocks (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	chain_id     TEXT NOT NULL,
	block_number TEXT NOT NULL,
	block_hash   TEXT NOT NULL,
	parent_hash  TEXT NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	is_canonical BOOLEAN NOT NULL DEFAULT TRUE,
	event_count  BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain_id, block_number, block_hash)
);
CREATE INDEX IF NOT EXISTS idx_blocks_chain_number ON blocks (chain_id, block_number);
CREATE INDEX IF NOT EXISTS idx_blocks_canonical ON blocks (is_canonical);

CREATE TABLE IF NOT EXISTS transactions (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	chain_id     TEXT NOT NULL,
	block_number TEXT NOT NULL,
	block_hash   TEXT NOT NULL,
	tx_hash      TEXT NOT NULL,
	from_address TEXT NOT NULL,
	to_address   TEXT,
	value        VARCHAR(78) NOT NULL DEFAULT '0',
	input_data   TEXT,
	timestamp    TIMESTAMPTZ NOT NULL,
	is_canonical BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain_id, tx_hash)
);
CREATE INDEX IF NOT EXISTS idx_transactions_chain_number ON transactions (chain_id, block_number);
CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_address);
CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions (to_address);

CREATE TABLE IF NOT EXISTS raw_events (
	id               UUID PRIMARY KEY,
	chain_id         TEXT NOT NULL,
	block_number     TEXT NOT NULL,
	block_hash       TEXT NOT NULL,
	tx_hash          TEXT NOT NULL,
	log_index        BIGINT NOT NULL,
	contract_address TEXT NOT NULL,
	topics           TEXT NOT NULL,
	data             TEXT NOT NULL,
	is_canonical     BOOLEAN NOT NULL DEFAULT TRUE,
	is_processed     BOOLEAN NOT NULL DEFAULT FALSE,
	block_timestamp  TIMESTAMPTZ NOT NULL,
	indexed_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain_id, block_number, log_index)
);
CREATE INDEX IF NOT EXISTS idx_raw_events_unprocessed ON raw_events (is_processed, is_canonical);
CREATE INDEX IF NOT EXISTS idx_raw_events_contract ON raw_events (contract_address);

CREATE TABLE IF NOT EXISTS indexed_events (
	id               UUID PRIMARY KEY,
	raw_event_id     UUID NOT NULL UNIQUE,
	chain_id         TEXT NOT NULL,
	block_number     TEXT NOT NULL,
	tx_hash          TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	contract_address TEXT NOT NULL,
	from_address     TEXT,
	to_address       TEXT,
	value            VARCHAR(78),
	decoded_data     JSONB,
	is_canonical     BOOLEAN NOT NULL DEFAULT TRUE,
	timestamp        TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_indexed_events_chain_type ON indexed_events (chain_id, event_type);
CREATE INDEX IF NOT EXISTS idx_indexed_events_from ON indexed_events (from_address);
CREATE INDEX IF NOT EXISTS idx_indexed_events_to ON indexed_events (to_address);
CREATE INDEX IF NOT EXISTS idx_indexed_events_canonical ON indexed_events (is_canonical);

CREATE TABLE IF NOT EXISTS contracts (
	chain_id      TEXT NOT NULL,
	address       TEXT NOT NULL,
	name          TEXT,
	symbol        TEXT,
	contract_type TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, address)
);
`
