package service

import (
	"context"

	"github.com/ndquang2/shopstock/internal/port"
)

type HealthStatus struct {
	OK    bool
	Cache bool
	Store bool
}

// HealthChecker probes the cache and store connections. Readiness is
// the logical AND of both.
type HealthChecker struct {
	store port.StoreRepository
	cache port.CacheRepository
}

func NewHealthChecker(store port.StoreRepository, cache port.CacheRepository) *HealthChecker {
	return &HealthChecker{store: store, cache: cache}
}

func (h *HealthChecker) Liveness() bool {
	return true
}

func (h *HealthChecker) Readiness(ctx context.Context) HealthStatus {
	cacheOK := h.cache.Ping(ctx)
	storeOK := h.store.Health(ctx)
	return HealthStatus{
		OK:    cacheOK && storeOK,
		Cache: cacheOK,
		Store: storeOK,
	}
}
