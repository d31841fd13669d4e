package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndquang2/shopstock/internal/core/domain"
)

// Mock StoreRepository
type mockStore struct {
	mu          sync.Mutex
	items       map[int]*domain.Item
	orders      []domain.Order
	nextOrderID int64

	purchaseCalls atomic.Int32
	failAll       bool
	purchaseDelay time.Duration
}

func newMockStore(items ...domain.Item) *mockStore {
	m := &mockStore{items: make(map[int]*domain.Item)}
	for i := range items {
		item := items[i]
		m.items[item.ID] = &item
	}
	return m
}

func (m *mockStore) GetItem(ctx context.Context, itemID int) (*domain.Item, error) {
	if m.failAll {
		return nil, errors.New("connection refused")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (m *mockStore) Purchase(ctx context.Context, itemID, quantity int) (*domain.PurchaseResult, error) {
	m.purchaseCalls.Add(1)
	if m.failAll {
		return nil, errors.New("connection refused")
	}
	if m.purchaseDelay > 0 {
		time.Sleep(m.purchaseDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[itemID]
	if !ok || item.Quantity < quantity {
		return nil, domain.ErrInsufficientStock
	}

	item.Quantity -= quantity
	m.nextOrderID++
	order := domain.Order{
		ID:             m.nextOrderID,
		ItemID:         itemID,
		Quantity:       quantity,
		UnitPriceCents: item.PriceCents,
		TotalCents:     item.PriceCents * quantity,
		CreatedAt:      time.Now(),
	}
	m.orders = append(m.orders, order)

	return &domain.PurchaseResult{Order: order, NewQuantity: item.Quantity}, nil
}

func (m *mockStore) Health(ctx context.Context) bool {
	return !m.failAll
}

func (m *mockStore) stockOf(itemID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok {
		return item.Quantity
	}
	return -1
}

func (m *mockStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// Mock CacheRepository
type mockCache struct {
	mu    sync.Mutex
	stock map[int]int
	locks map[string]string

	acquireCalls atomic.Int32
	failAll      bool
	failDecr     bool
	failSet      bool
}

func newMockCache() *mockCache {
	return &mockCache{
		stock: make(map[int]int),
		locks: make(map[string]string),
	}
}

func (m *mockCache) GetStock(ctx context.Context, itemID int) (int, bool, error) {
	if m.failAll {
		return 0, false, errors.New("redis down")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	qty, ok := m.stock[itemID]
	return qty, ok, nil
}

func (m *mockCache) SetStock(ctx context.Context, itemID, quantity int, ttl time.Duration) error {
	if m.failAll || m.failSet {
		return errors.New("redis down")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[itemID] = quantity
	return nil
}

func (m *mockCache) DecrementStock(ctx context.Context, itemID, by int) error {
	if m.failAll || m.failDecr {
		return errors.New("redis down")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[itemID]; ok {
		m.stock[itemID] -= by
	}
	return nil
}

func (m *mockCache) AcquireLock(ctx context.Context, buyerID string, itemID int, ttl time.Duration) (string, bool, error) {
	m.acquireCalls.Add(1)
	if m.failAll {
		return "", false, errors.New("redis down")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%d", buyerID, itemID)
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	token := fmt.Sprintf("token-%d", m.acquireCalls.Load())
	m.locks[key] = token
	return token, true, nil
}

func (m *mockCache) ReleaseLock(ctx context.Context, buyerID string, itemID int, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s:%d", buyerID, itemID)
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *mockCache) Ping(ctx context.Context) bool {
	return !m.failAll
}

func (m *mockCache) lockHeld(buyerID string, itemID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[fmt.Sprintf("%s:%d", buyerID, itemID)]
	return held
}

// recordingMetrics captures request observations for assertions.
type recordingMetrics struct {
	mu    sync.Mutex
	codes []string
}

func (r *recordingMetrics) ObserveRequest(route, code string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, route+" "+code)
}
func (r *recordingMetrics) ObserveCacheOp(op, result string, seconds float64) {}
func (r *recordingMetrics) ObserveStoreOp(op, result string, seconds float64) {}

func newService(store *mockStore, cache *mockCache) *InventoryService {
	return NewInventoryService(store, cache, zerolog.Nop(), &recordingMetrics{})
}

func TestCheckout_EndToEndScenario(t *testing.T) {
	store := newMockStore(domain.Item{ID: 7, Name: "Item-007", PriceCents: 500, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)
	ctx := context.Background()

	result, err := svc.Checkout(ctx, "u1", "7", 4)
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if result.Order.TotalCents != 2000 {
		t.Errorf("expected total 2000, got %d", result.Order.TotalCents)
	}
	if result.NewQuantity != 6 {
		t.Errorf("expected new quantity 6, got %d", result.NewQuantity)
	}

	// 6 remaining, asking for 10
	_, err = svc.Checkout(ctx, "u1", "7", 10)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
	if store.stockOf(7) != 6 {
		t.Errorf("expected stock 6, got %d", store.stockOf(7))
	}

	av, err := svc.Enquire(ctx, "7")
	if err != nil {
		t.Fatalf("enquire failed: %v", err)
	}
	if !av.InStock || av.Quantity != 6 {
		t.Errorf("expected in stock with quantity 6, got %+v", av)
	}
}

func TestCheckout_BadRequest(t *testing.T) {
	store := newMockStore(domain.Item{ID: 7, PriceCents: 500, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)

	cases := []struct {
		name    string
		buyerID string
		itemID  string
		qty     int
	}{
		{"empty buyer", "", "7", 2},
		{"zero quantity", "u1", "7", 0},
		{"negative quantity", "u1", "7", -3},
		{"unparseable item", "u1", "banana", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), tc.buyerID, tc.itemID, tc.qty)
			if !errors.Is(err, domain.ErrBadRequest) {
				t.Errorf("expected ErrBadRequest, got: %v", err)
			}
		})
	}

	if store.stockOf(7) != 10 {
		t.Errorf("expected stock unchanged at 10, got %d", store.stockOf(7))
	}
	if calls := cache.acquireCalls.Load(); calls != 0 {
		t.Errorf("expected no lock attempts, got %d", calls)
	}
}

func TestCheckout_RateLimited(t *testing.T) {
	store := newMockStore(domain.Item{ID: 7, PriceCents: 500, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)
	ctx := context.Background()

	// Another in-flight request from the same buyer holds the lock.
	_, ok, err := cache.AcquireLock(ctx, "u1", 7, time.Second)
	if err != nil || !ok {
		t.Fatalf("setup lock failed: ok=%v err=%v", ok, err)
	}

	_, err = svc.Checkout(ctx, "u1", "7", 1)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got: %v", err)
	}
	if store.stockOf(7) != 10 {
		t.Errorf("expected stock unchanged, got %d", store.stockOf(7))
	}

	// A different buyer is never blocked by u1's lock.
	if _, err := svc.Checkout(ctx, "u2", "7", 1); err != nil {
		t.Errorf("different buyer should not be rate limited: %v", err)
	}
}

func TestCheckout_LockReleasedAfterCompletion(t *testing.T) {
	store := newMockStore(domain.Item{ID: 7, PriceCents: 500, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)
	ctx := context.Background()

	if _, err := svc.Checkout(ctx, "u1", "7", 1); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if cache.lockHeld("u1", 7) {
		t.Error("lock still held after successful checkout")
	}

	// Released on failure paths too.
	store.failAll = true
	_, err := svc.Checkout(ctx, "u1", "7", 1)
	if !errors.Is(err, domain.ErrDependency) {
		t.Fatalf("expected ErrDependency, got: %v", err)
	}
	if cache.lockHeld("u1", 7) {
		t.Error("lock still held after failed checkout")
	}
}

func TestCheckout_Concurrent_NoOversell(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: initialStock})
	cache := newMockCache()
	svc := newService(store, cache)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), fmt.Sprintf("buyer-%d", buyer), "1", 1)
			if err == nil {
				successCount.Add(1)
			}
		}(i)
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if store.stockOf(1) != 0 {
		t.Errorf("expected stock 0, got %d", store.stockOf(1))
	}
	if store.orderCount() != initialStock {
		t.Errorf("expected %d orders, got %d", initialStock, store.orderCount())
	}
}

func TestCheckout_SameBuyerConcurrent_Serialized(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 100})
	store.purchaseDelay = 20 * time.Millisecond
	cache := newMockCache()
	svc := newService(store, cache)

	var successCount, limitedCount atomic.Int32
	var wg sync.WaitGroup
	requests := 5

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Checkout(context.Background(), "u1", "1", 1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrRateLimited):
				limitedCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load()+limitedCount.Load() != int32(requests) {
		t.Errorf("expected %d outcomes, got %d ok + %d limited",
			requests, successCount.Load(), limitedCount.Load())
	}
	if successCount.Load() < 1 {
		t.Error("expected at least one success")
	}
	// The purchase delay keeps the first holder in the critical section
	// while the rest arrive, so overlapping calls must be rejected.
	if limitedCount.Load() < 1 {
		t.Error("expected overlapping same-buyer requests to be rate limited")
	}
	if int(successCount.Load()) != store.orderCount() {
		t.Errorf("orders (%d) should match successes (%d)", store.orderCount(), successCount.Load())
	}
}

func TestCheckout_StaleHighCache_NeverOversells(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 5})
	cache := newMockCache()
	cache.stock[1] = 100 // stale high
	svc := newService(store, cache)

	_, err := svc.Checkout(context.Background(), "u1", "1", 10)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
	if store.stockOf(1) != 5 {
		t.Errorf("expected stock unchanged at 5, got %d", store.stockOf(1))
	}
}

func TestCheckout_CachePreCheckShortCircuits(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 50})
	cache := newMockCache()
	cache.stock[1] = 2 // below requested quantity
	svc := newService(store, cache)

	_, err := svc.Checkout(context.Background(), "u1", "1", 3)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got: %v", err)
	}
	if calls := store.purchaseCalls.Load(); calls != 0 {
		t.Errorf("expected no store purchase call, got %d", calls)
	}
}

func TestCheckout_NotIdempotent(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)
	ctx := context.Background()

	first, err := svc.Checkout(ctx, "u1", "1", 2)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(ctx, "u1", "1", 2)
	if err != nil {
		t.Fatalf("second checkout failed: %v", err)
	}

	if first.Order.ID == second.Order.ID {
		t.Error("expected distinct order records")
	}
	if store.stockOf(1) != 6 {
		t.Errorf("expected stock 6 after two purchases, got %d", store.stockOf(1))
	}
	if store.orderCount() != 2 {
		t.Errorf("expected 2 orders, got %d", store.orderCount())
	}
}

func TestCheckout_CacheSyncBestEffort(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	cache := newMockCache()
	cache.failDecr = true
	svc := newService(store, cache)

	result, err := svc.Checkout(context.Background(), "u1", "1", 1)
	if err != nil {
		t.Fatalf("checkout should succeed despite cache sync failure: %v", err)
	}
	if result.NewQuantity != 9 {
		t.Errorf("expected new quantity 9, got %d", result.NewQuantity)
	}
}

func TestCheckout_CacheSyncDoesNotResurrectKey(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	cache := newMockCache()
	svc := newService(store, cache)

	if _, err := svc.Checkout(context.Background(), "u1", "1", 1); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if _, found, _ := cache.GetStock(context.Background(), 1); found {
		t.Error("decrement must not create a cache entry the cache never had")
	}
}

func TestCheckout_LockTransportFailure_IsClosedStance(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	cache := newMockCache()
	cache.failAll = true
	svc := newService(store, cache)

	_, err := svc.Checkout(context.Background(), "u1", "1", 1)
	if !errors.Is(err, domain.ErrDependency) {
		t.Errorf("expected ErrDependency, got: %v", err)
	}
	if calls := store.purchaseCalls.Load(); calls != 0 {
		t.Errorf("lock failure must not reach the store, got %d purchase calls", calls)
	}
}

func TestCheckout_StoreFailure_NotOutOfStock(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	store.failAll = true
	cache := newMockCache()
	svc := newService(store, cache)

	_, err := svc.Checkout(context.Background(), "u1", "1", 1)
	if !errors.Is(err, domain.ErrDependency) {
		t.Errorf("expected ErrDependency, got: %v", err)
	}
	if errors.Is(err, domain.ErrInsufficientStock) {
		t.Error("store failure must never read as out of stock")
	}
}

func TestEnquire_CacheHit(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, Name: "Item-001", PriceCents: 999, Quantity: 10})
	cache := newMockCache()
	cache.stock[1] = 4
	svc := newService(store, cache)

	av, err := svc.Enquire(context.Background(), "1")
	if err != nil {
		t.Fatalf("enquire failed: %v", err)
	}
	if av.Source != domain.SourceCache {
		t.Errorf("expected source cache, got %s", av.Source)
	}
	if av.Quantity != 4 || !av.InStock {
		t.Errorf("unexpected availability: %+v", av)
	}
}

func TestEnquire_MissRepopulatesCache(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, Name: "Item-001", PriceCents: 999, Quantity: 12})
	cache := newMockCache()
	svc := newService(store, cache)
	ctx := context.Background()

	av, err := svc.Enquire(ctx, "1")
	if err != nil {
		t.Fatalf("enquire failed: %v", err)
	}
	if av.Source != domain.SourceStore {
		t.Errorf("expected source store, got %s", av.Source)
	}
	if av.Name != "Item-001" || av.PriceCents != 999 || av.Quantity != 12 {
		t.Errorf("unexpected availability: %+v", av)
	}

	// Second enquiry must come from the repopulated cache, unchanged.
	av, err = svc.Enquire(ctx, "1")
	if err != nil {
		t.Fatalf("second enquire failed: %v", err)
	}
	if av.Source != domain.SourceCache {
		t.Errorf("expected source cache, got %s", av.Source)
	}
	if av.Quantity != 12 {
		t.Errorf("expected quantity 12, got %d", av.Quantity)
	}
}

func TestEnquire_PrefixedCode(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, Name: "Item-001", PriceCents: 999, Quantity: 3})
	cache := newMockCache()
	svc := newService(store, cache)

	av, err := svc.Enquire(context.Background(), "I001")
	if err != nil {
		t.Fatalf("enquire failed: %v", err)
	}
	if av.Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", av.Quantity)
	}
	if av.ItemID != "I001" {
		t.Errorf("expected echoed item id I001, got %s", av.ItemID)
	}
}

func TestEnquire_NotFound(t *testing.T) {
	svc := newService(newMockStore(), newMockCache())

	_, err := svc.Enquire(context.Background(), "42")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got: %v", err)
	}

	_, err = svc.Enquire(context.Background(), "not-an-id")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound for unparseable id, got: %v", err)
	}
}

func TestEnquire_StoreFailure(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	store.failAll = true
	svc := newService(store, newMockCache())

	_, err := svc.Enquire(context.Background(), "1")
	if !errors.Is(err, domain.ErrDependency) {
		t.Errorf("expected ErrDependency, got: %v", err)
	}
}

func TestEnquire_CacheDownFallsBackToStore(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, Name: "Item-001", PriceCents: 999, Quantity: 7})
	cache := newMockCache()
	cache.failAll = true
	svc := newService(store, cache)

	av, err := svc.Enquire(context.Background(), "1")
	if err != nil {
		t.Fatalf("enquire should degrade to store-only: %v", err)
	}
	if av.Source != domain.SourceStore || av.Quantity != 7 {
		t.Errorf("unexpected availability: %+v", av)
	}
}

func TestCheckout_RecordsOutcomeMetrics(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, PriceCents: 100, Quantity: 10})
	cache := newMockCache()
	rec := &recordingMetrics{}
	svc := NewInventoryService(store, cache, zerolog.Nop(), rec)
	ctx := context.Background()

	svc.Checkout(ctx, "u1", "1", 1)
	svc.Checkout(ctx, "", "1", 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"/checkout 200", "/checkout 400"}
	if len(rec.codes) != len(want) {
		t.Fatalf("expected %d observations, got %v", len(want), rec.codes)
	}
	for i := range want {
		if rec.codes[i] != want[i] {
			t.Errorf("observation %d: expected %q, got %q", i, want[i], rec.codes[i])
		}
	}
}
