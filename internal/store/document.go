// Package store is the durable, append-only document store. Every put and
// every delete becomes a new version record in a pluggable Backend; the
// in-memory view is rebuilt from the backend at startup.
package store

import (
	"context"
	"time"
)

// Op identifies the kind of a log record.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
	// OpAbort cancels the staged record with the same document id and
	// version. Replay drops the aborted version.
	OpAbort Op = "abort"
)

// Document is one committed version of a note.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Format    string            `json:"format,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Version   int64             `json:"version"`
	Deleted   bool              `json:"deleted,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Record is the unit appended to a Backend.
type Record struct {
	Op       Op        `json:"op"`
	Document Document  `json:"document"`
	At       time.Time `json:"at"`
}

// Backend persists records in append order. Implementations must make an
// Append durable before returning nil and must replay records in the order
// they were appended.
type Backend interface {
	Append(ctx context.Context, rec Record) error
	Replay(ctx context.Context, fn func(Record) error) error
	Close() error
}
