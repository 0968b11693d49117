package publish

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"chainScope/internal/model"
)

// JSONLPublisher appends published events as JSON lines to a local file.
// Intended for local runs and debugging when no broker is available.
type JSONLPublisher struct {
	path string
	mu   sync.Mutex
}

func NewJSONLPublisher(path string) *JSONLPublisher {
	return &JSONLPublisher{path: path}
}

type jsonlEnvelope struct {
	RoutingKey string             `json:"routing_key"`
	Event      model.IndexedEvent `json:"event"`
}

// Publish appends one event line.
func (p *JSONLPublisher) Publish(_ context.Context, routingKey string, event model.IndexedEvent) error {
	dir := filepath.Dir(p.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	file, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	line, err := json.Marshal(jsonlEnvelope{RoutingKey: routingKey, Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func (p *JSONLPublisher) Close() error { return nil }
