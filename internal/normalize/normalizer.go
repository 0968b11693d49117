package normalize

import (
	"math/big"
	"strings"

	"go.uber.org/zap"

	"chainScope/internal/model"
)

// Well-known event signature hashes (topic0).
const (
	// Transfer(address,address,uint256) — ERC20 and ERC721 share it.
	transferSignature = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

	// Approval(address,address,uint256)
	approvalSignature = "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"
)

// Normalizer decodes raw events into typed indexed events. Normalize is
// deterministic: a given raw event always yields the same output.
type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize returns the typed event for raw, or nil when the event carries no
// topics and cannot be dispatched. It never fails: decode errors degrade to
// safe defaults.
func (n *Normalizer) Normalize(raw model.RawEvent) *model.IndexedEvent {
	if len(raw.Topics) == 0 {
		return nil
	}

	switch strings.ToLower(raw.Topics[0]) {
	case transferSignature:
		return n.normalizeTransfer(raw)
	case approvalSignature:
		return n.normalizeApproval(raw)
	default:
		return n.normalizeGeneric(raw)
	}
}

func (n *Normalizer) normalizeTransfer(raw model.RawEvent) *model.IndexedEvent {
	from := topicAddress(raw.Topics, 1)
	to := topicAddress(raw.Topics, 2)
	value := n.decodeValue(raw, true)

	event := n.base(raw, model.EventTypeTransfer)
	event.FromAddress = from
	event.ToAddress = to
	event.Value = value
	event.DecodedData = map[string]interface{}{
		"from":  from,
		"to":    to,
		"value": value,
	}
	return event
}

func (n *Normalizer) normalizeApproval(raw model.RawEvent) *model.IndexedEvent {
	owner := topicAddress(raw.Topics, 1)
	spender := topicAddress(raw.Topics, 2)
	value := n.decodeValue(raw, false)

	event := n.base(raw, model.EventTypeApproval)
	event.FromAddress = owner
	event.ToAddress = spender
	event.Value = value
	event.DecodedData = map[string]interface{}{
		"owner":   owner,
		"spender": spender,
		"value":   value,
	}
	return event
}

func (n *Normalizer) normalizeGeneric(raw model.RawEvent) *model.IndexedEvent {
	event := n.base(raw, model.EventTypeUnknown)
	event.DecodedData = map[string]interface{}{
		"topics": raw.Topics,
		"data":   raw.Data,
	}
	return event
}

func (n *Normalizer) base(raw model.RawEvent, eventType string) *model.IndexedEvent {
	return &model.IndexedEvent{
		RawEventID:      raw.ID,
		ChainID:         raw.ChainID,
		BlockNumber:     raw.BlockNumber,
		TxHash:          raw.TxHash,
		EventType:       eventType,
		ContractAddress: raw.ContractAddress,
		IsCanonical:     raw.IsCanonical,
		Timestamp:       raw.BlockTimestamp,
	}
}

// decodeValue reads the data payload as an unsigned big integer. For
// Transfer-shaped events an indexed fourth topic (the ERC721 token id) is the
// fallback when data is empty. Decode failures degrade to "0".
func (n *Normalizer) decodeValue(raw model.RawEvent, topicFallback bool) string {
	if raw.Data != "" && raw.Data != "0x" {
		if v, ok := parseHexUint(raw.Data); ok {
			return v
		}
		n.logger.Warn("value decode failed, defaulting to 0",
			zap.String("chain_id", raw.ChainID),
			zap.String("tx_hash", raw.TxHash),
			zap.Uint64("log_index", raw.LogIndex),
		)
		return "0"
	}

	if topicFallback && len(raw.Topics) > 3 {
		if v, ok := parseHexUint(raw.Topics[3]); ok {
			return v
		}
		n.logger.Warn("token id decode failed, defaulting to 0",
			zap.String("chain_id", raw.ChainID),
			zap.String("tx_hash", raw.TxHash),
			zap.Uint64("log_index", raw.LogIndex),
		)
	}
	return "0"
}

// topicAddress truncates a 32-byte topic word to its rightmost 20 bytes.
func topicAddress(topics []string, index int) string {
	if index >= len(topics) {
		return ""
	}
	topic := strings.TrimPrefix(strings.ToLower(topics[index]), "0x")
	if len(topic) < 40 {
		return ""
	}
	return "0x" + topic[len(topic)-40:]
}

func parseHexUint(input string) (string, bool) {
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(input)), "0x")
	if trimmed == "" {
		return "0", true
	}
	v, ok := new(big.Int).SetString(trimmed, 16)
	if !ok || v.Sign() < 0 {
		return "", false
	}
	return v.String(), true
}
