// Package callcache holds completed call results keyed by call id so that
// webhook-delivered outcomes become visible to pollers.
package callcache

import (
	"context"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

const (
	// DefaultTTL is how long a result stays visible.
	DefaultTTL = 30 * time.Minute
	// DefaultSweepInterval is the expiry sweep cadence for Memory.
	DefaultSweepInterval = 5 * time.Minute
)

// Entry describes one cached result.
type Entry struct {
	Key        string    `json:"key"`
	Status     string    `json:"status"`
	InsertedAt time.Time `json:"inserted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Stats is a snapshot of the cache.
type Stats struct {
	Size    int     `json:"size"`
	Entries []Entry `json:"entries"`
}

// Store is a TTL-bounded result cache. A Get after expiry behaves exactly
// like a Get on a key that was never set.
type Store interface {
	// Set inserts or replaces the result for key. ttl <= 0 uses the default.
	Set(ctx context.Context, key string, v model.CallResult, ttl time.Duration) error
	Get(ctx context.Context, key string) (model.CallResult, bool, error)
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
}
