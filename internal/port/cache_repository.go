package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// GetStock returns the cached quantity for an item; found is false
	// when the key is absent or expired.
	GetStock(ctx context.Context, itemID int) (quantity int, found bool, err error)

	// SetStock overwrites the cached quantity with an expiry.
	SetStock(ctx context.Context, itemID, quantity int, ttl time.Duration) error

	// DecrementStock lowers the cached quantity after a confirmed
	// purchase. If the key is absent this is a no-op; the next enquiry
	// repopulates it from the store.
	DecrementStock(ctx context.Context, itemID, by int) error

	// AcquireLock takes the per-(buyer,item) lock via set-if-absent with
	// an expiry. ok is false when another request already holds it; the
	// returned token proves ownership on release.
	AcquireLock(ctx context.Context, buyerID string, itemID int, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock deletes the lock only if the stored token still
	// matches. Safe to call when the lock has already expired.
	ReleaseLock(ctx context.Context, buyerID string, itemID int, token string) error

	// Ping reports whether the cache is reachable.
	Ping(ctx context.Context) bool
}
