package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndquang2/shopstock/internal/core/domain"
	"github.com/ndquang2/shopstock/internal/port"
)

const (
	routeEnquire  = "/enquire"
	routeCheckout = "/checkout"

	// DefaultCacheTTL bounds how long a cached stock value may lag the
	// store.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultLockTTL bounds how long a crashed checkout can keep a
	// buyer's lock.
	DefaultLockTTL = 5 * time.Second
)

// InventoryService owns the purchase/enquiry policy. The cache is an
// advisory mirror; the store's conditional decrement is the only
// authoritative check on stock.
type InventoryService struct {
	store   port.StoreRepository
	cache   port.CacheRepository
	log     zerolog.Logger
	metrics port.Metrics

	CacheTTL time.Duration
	LockTTL  time.Duration
}

func NewInventoryService(store port.StoreRepository, cache port.CacheRepository, log zerolog.Logger, metrics port.Metrics) *InventoryService {
	return &InventoryService{
		store:    store,
		cache:    cache,
		log:      log,
		metrics:  metrics,
		CacheTTL: DefaultCacheTTL,
		LockTTL:  DefaultLockTTL,
	}
}

// Enquire reports availability for an item, cache first, store on a
// miss. A miss repopulates the cache best-effort.
func (s *InventoryService) Enquire(ctx context.Context, rawItemID string) (*domain.Availability, error) {
	t0 := time.Now()

	itemID, err := ParseItemID(rawItemID)
	if err != nil {
		s.observe(routeEnquire, "404", t0)
		s.log.Warn().Str("item_id", rawItemID).Msg("enquire: unparseable item id")
		return nil, domain.ErrItemNotFound
	}

	// Cache failures degrade to a store-only read.
	qty, found, err := s.cache.GetStock(ctx, itemID)
	if err == nil && found {
		s.observe(routeEnquire, "200", t0)
		s.log.Info().Str("item_id", rawItemID).Int("stock", qty).Str("source", domain.SourceCache).Msg("enquire")
		return &domain.Availability{
			ItemID:   rawItemID,
			InStock:  qty > 0,
			Quantity: qty,
			Source:   domain.SourceCache,
		}, nil
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		s.observe(routeEnquire, "502", t0)
		s.log.Error().Err(err).Str("item_id", rawItemID).Msg("enquire: store read failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrDependency, err)
	}
	if item == nil {
		s.observe(routeEnquire, "404", t0)
		s.log.Warn().Str("item_id", rawItemID).Msg("enquire: item not found")
		return nil, domain.ErrItemNotFound
	}

	// Best-effort repopulation; the adapter already logged any failure.
	_ = s.cache.SetStock(ctx, itemID, item.Quantity, s.CacheTTL)

	s.observe(routeEnquire, "200", t0)
	s.log.Info().Str("item_id", rawItemID).Int("stock", item.Quantity).Str("source", domain.SourceStore).Msg("enquire")
	return &domain.Availability{
		ItemID:     rawItemID,
		InStock:    item.Quantity > 0,
		Quantity:   item.Quantity,
		Source:     domain.SourceStore,
		Name:       item.Name,
		PriceCents: item.PriceCents,
	}, nil
}

// Checkout purchases quantity units of an item for a buyer. A
// per-(buyer,item) lock serializes one buyer's racing requests for the
// same item; it does not order competing buyers, the store decrement
// does. Checkout is not idempotent: a repeat call after the first
// completed is a second purchase.
func (s *InventoryService) Checkout(ctx context.Context, buyerID, rawItemID string, quantity int) (*domain.PurchaseResult, error) {
	t0 := time.Now()

	if buyerID == "" || quantity <= 0 {
		s.observe(routeCheckout, "400", t0)
		s.log.Warn().Str("buyer_id", buyerID).Str("item_id", rawItemID).Int("qty", quantity).Msg("checkout: bad request")
		return nil, domain.ErrBadRequest
	}

	itemID, err := ParseItemID(rawItemID)
	if err != nil {
		s.observe(routeCheckout, "400", t0)
		s.log.Warn().Str("buyer_id", buyerID).Str("item_id", rawItemID).Msg("checkout: unparseable item id")
		return nil, domain.ErrBadRequest
	}

	// A lock we cannot take safely is a closed door, never a bypass.
	token, ok, err := s.cache.AcquireLock(ctx, buyerID, itemID, s.LockTTL)
	if err != nil {
		s.observe(routeCheckout, "502", t0)
		s.log.Error().Err(err).Str("buyer_id", buyerID).Str("item_id", rawItemID).Msg("checkout: lock acquisition failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrDependency, err)
	}
	if !ok {
		s.observe(routeCheckout, "429", t0)
		s.log.Warn().Str("buyer_id", buyerID).Str("item_id", rawItemID).Msg("checkout: rate limited")
		return nil, domain.ErrRateLimited
	}

	// Release survives request cancellation; the TTL covers a crash.
	defer func() {
		_ = s.cache.ReleaseLock(context.WithoutCancel(ctx), buyerID, itemID, token)
	}()

	// Cheap pre-check. A stale-high value is harmless, the store call
	// below refuses it anyway; a stale-low value only costs a retry.
	cached, found, err := s.cache.GetStock(ctx, itemID)
	if err == nil && found && cached < quantity {
		s.observe(routeCheckout, "409", t0)
		s.log.Warn().Str("buyer_id", buyerID).Str("item_id", rawItemID).Int("stock", cached).Msg("checkout: out of stock (cache)")
		return nil, domain.ErrInsufficientStock
	}

	result, err := s.store.Purchase(ctx, itemID, quantity)
	if errors.Is(err, domain.ErrInsufficientStock) {
		s.observe(routeCheckout, "409", t0)
		s.log.Warn().Str("buyer_id", buyerID).Str("item_id", rawItemID).Int("qty", quantity).Msg("checkout: out of stock")
		return nil, domain.ErrInsufficientStock
	}
	if err != nil {
		s.observe(routeCheckout, "502", t0)
		s.log.Error().Err(err).Str("buyer_id", buyerID).Str("item_id", rawItemID).Msg("checkout: store purchase failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrDependency, err)
	}

	// Best-effort cache sync; an absent key stays absent.
	_ = s.cache.DecrementStock(ctx, itemID, quantity)

	s.observe(routeCheckout, "200", t0)
	s.log.Info().
		Str("buyer_id", buyerID).
		Str("item_id", rawItemID).
		Int64("order_id", result.Order.ID).
		Int("qty", quantity).
		Int("total_cents", result.Order.TotalCents).
		Int("new_qty", result.NewQuantity).
		Msg("checkout: purchase ok")
	return result, nil
}

func (s *InventoryService) observe(route, code string, t0 time.Time) {
	s.metrics.ObserveRequest(route, code, time.Since(t0).Seconds())
}
