package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"chainScope/internal/model"
)

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(model.EventTypeTransfer); got != "event.transfer" {
		t.Fatalf("routing key = %q, want event.transfer", got)
	}
	if got := RoutingKey(model.EventTypeApproval); got != "event.approval" {
		t.Fatalf("routing key = %q, want event.approval", got)
	}
	if got := RoutingKey(model.EventTypeUnknown); got != "event.unknown" {
		t.Fatalf("routing key = %q, want event.unknown", got)
	}
}

func TestJSONLPublisherAppendsEnvelopes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")
	p := NewJSONLPublisher(path)

	events := []model.IndexedEvent{
		{ID: "a", ChainID: "1", EventType: model.EventTypeTransfer, Value: "10"},
		{ID: "b", ChainID: "1", EventType: model.EventTypeApproval, Value: "20"},
	}
	for _, e := range events {
		if err := p.Publish(context.Background(), RoutingKey(e.EventType), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var got []jsonlEnvelope
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var env jsonlEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, env)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d lines, want 2", len(got))
	}
	if got[0].RoutingKey != "event.transfer" || got[0].Event.ID != "a" {
		t.Fatalf("first envelope mismatch: %+v", got[0])
	}
	if got[1].RoutingKey != "event.approval" || got[1].Event.Value != "20" {
		t.Fatalf("second envelope mismatch: %+v", got[1])
	}
}
