package domain

import "time"

// Order is one row of the append-only order ledger. Orders are created
// exactly once per successful purchase and never updated or deleted.
type Order struct {
	ID             int64
	ItemID         int
	Quantity       int
	UnitPriceCents int
	TotalCents     int
	CreatedAt      time.Time
}

// PurchaseResult is what the store returns for a successful purchase:
// the ledger row and the quantity remaining after the decrement.
type PurchaseResult struct {
	Order       Order
	NewQuantity int
}
