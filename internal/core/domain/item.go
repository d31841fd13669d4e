package domain

// Item is the authoritative inventory record. Quantity is mutated only
// by a successful purchase in the store.
type Item struct {
	ID          int
	Name        string
	Description string
	PriceCents  int
	Quantity    int
}
