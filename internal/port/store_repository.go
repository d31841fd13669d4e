package port

import (
	"context"

	"github.com/ndquang2/shopstock/internal/core/domain"
)

type StoreRepository interface {
	// GetItem retrieves an item by ID; returns (nil, nil) when the item
	// does not exist.
	GetItem(ctx context.Context, itemID int) (*domain.Item, error)

	// Purchase atomically decrements stock by quantity if enough remains
	// and appends exactly one order row in the same transaction. Returns
	// domain.ErrInsufficientStock when the condition fails; any other
	// error is a transport failure.
	Purchase(ctx context.Context, itemID, quantity int) (*domain.PurchaseResult, error)

	// Health reports whether the underlying connection is alive.
	Health(ctx context.Context) bool
}
