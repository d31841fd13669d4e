package domain

// Availability sources.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// Availability is the enquiry view of an item. Name and PriceCents are
// only populated when the answer came from the store; a cache hit only
// knows the quantity.
type Availability struct {
	ItemID     string
	InStock    bool
	Quantity   int
	Source     string
	Name       string
	PriceCents int
}
