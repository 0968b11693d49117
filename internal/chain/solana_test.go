package chain

import (
	"testing"
	"time"

	"chainScope/internal/retry"
)

func TestSlotEventsUsesSlotWideLogIndex(t *testing.T) {
	a := NewSolanaAdapter("solana-mainnet", "solana", "https://rpc.example", retry.DefaultOptions(), nil)

	ts := time.Unix(1700000000, 0).UTC()
	logs := []txLogs{
		{signature: "sig1", messages: []string{
			"Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA invoke [1]",
			"Program log: Instruction: Transfer",
		}},
		{signature: "sig2", messages: []string{
			"Program 11111111111111111111111111111111 invoke [1]",
		}},
	}

	events := a.slotEvents(250000000, "hash250", ts, logs)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	for i, e := range events {
		if e.LogIndex != uint64(i) {
			t.Fatalf("event %d log index = %d, want %d", i, e.LogIndex, i)
		}
		if e.BlockNumber != 250000000 || e.BlockHash != "hash250" {
			t.Fatalf("event %d block fields mismatch: %+v", i, e)
		}
	}

	// Indexes keep counting across transaction boundaries.
	if events[2].TxHash != "sig2" || events[2].LogIndex != 2 {
		t.Fatalf("second transaction's log must continue the slot index: %+v", events[2])
	}
	if events[0].ContractAddress != "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" {
		t.Fatalf("program attribution = %q", events[0].ContractAddress)
	}
	if events[2].ContractAddress != "11111111111111111111111111111111" {
		t.Fatalf("program attribution = %q", events[2].ContractAddress)
	}
}

func TestInvokedProgram(t *testing.T) {
	if id, ok := invokedProgram("Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA invoke [2]"); !ok || id != "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA" {
		t.Fatalf("invoke line not parsed: %q %v", id, ok)
	}
	if _, ok := invokedProgram("Program log: Instruction: Transfer"); ok {
		t.Fatalf("log line must not parse as an invoke")
	}
	if _, ok := invokedProgram("Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA success"); ok {
		t.Fatalf("success line must not parse as an invoke")
	}
}
