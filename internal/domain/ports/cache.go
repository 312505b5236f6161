package ports

import (
	"context"
	"time"
)

// Cache defines the interface for the content-addressed result cache.
// Keys are fingerprints of canonicalized request payloads; values are
// serialized results. Implementations must be safe for concurrent use;
// two callers racing to write the same key is fine because values for the
// same fingerprint are idempotent.
type Cache interface {
	// Get returns the cached value for key, with ok=false on a miss or an
	// expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores a value under key. A zero ttl means the implementation's
	// default expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
