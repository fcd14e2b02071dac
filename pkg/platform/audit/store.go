package audit

import "context"

// Writer persists entries. Insert is idempotent on ID: writing an entry that
// already exists succeeds without changing it.
type Writer interface {
	Insert(ctx context.Context, entry AuditEntry) error
}

// Reader is the read side used by the query service. FindByID returns an
// error wrapping sentinel.ErrNotFound for an unknown id.
type Reader interface {
	Count(ctx context.Context, filter Filter) (int64, error)
	// Find returns matching entries sorted by timestamp descending (ties by
	// id descending), skipping offset and returning at most limit.
	Find(ctx context.Context, filter Filter, offset, limit int) ([]AuditEntry, error)
	FindByID(ctx context.Context, id string) (AuditEntry, error)
	CountAll(ctx context.Context) (int64, error)
}

// Store is a full persistent audit store.
type Store interface {
	Writer
	Reader
}
