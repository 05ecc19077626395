package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps records in process memory. Nothing survives a restart;
// it backs tests and the "memory" store backend.
type MemoryBackend struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Replay(ctx context.Context, fn func(Record) error) error {
	m.mu.Lock()
	records := make([]Record, len(m.records))
	copy(records, m.records)
	m.mu.Unlock()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many records have been appended.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryBackend) Close() error {
	return nil
}
