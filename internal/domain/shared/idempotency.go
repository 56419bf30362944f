package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers request keys that have already been
// processed, so a retried sale or return cannot consume a second
// document number or double-deduct stock.
type IdempotencyStore interface {
	// MarkProcessed atomically records the key with a TTL. It returns
	// true if the key was newly recorded, false if it already existed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether the key has already been recorded.
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release drops a recorded key so a later request may claim it
	// again. Releasing an unknown key is a no-op.
	Release(ctx context.Context, key string) error
}
