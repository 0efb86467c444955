package domain

import (
	"context"
	"io"
	"time"
)

// TxJournal persists every transaction attempt for later inspection and
// archival.
type TxJournal interface {
	Insert(ctx context.Context, rec TxRecord) error
	ListRecent(ctx context.Context, opts ListOpts) ([]TxRecord, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]TxRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockManager provides distributed locks. Acquire returns an unlock function
// on success, or ErrLockHeld when another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus publishes transaction lifecycle events, both as ephemeral pub/sub
// messages and as durable stream entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter stores objects in blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports journal rows older than a cutoff to blob storage and
// prunes them. It returns the number of rows archived.
type Archiver interface {
	Run(ctx context.Context, cutoff time.Time) (int, error)
}
