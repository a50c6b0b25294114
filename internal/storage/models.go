package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// KV is a durable store of whole values under string keys. Every Put replaces
// the previous value atomically and bumps the key's revision.
type KV interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value []byte) (int64, error)
	Revision(ctx context.Context, key string) (int64, error)
}

// Entry is a value read from a KV store. Revision is 0 for a key that was
// never written.
type Entry struct {
	Key       string
	Value     []byte
	Revision  int64
	UpdatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Document is a knowledge-base source text awaiting or done with indexing.
type Document struct {
	ID         string
	Title      string
	Content    string
	Source     string
	ChunkCount int
	IndexedAt  time.Time
	CreatedAt  time.Time
}
