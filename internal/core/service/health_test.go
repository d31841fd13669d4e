package service

import (
	"context"
	"testing"

	"github.com/ndquang2/shopstock/internal/core/domain"
)

func TestHealthChecker_Readiness(t *testing.T) {
	store := newMockStore(domain.Item{ID: 1, Quantity: 1})
	cache := newMockCache()
	checker := NewHealthChecker(store, cache)
	ctx := context.Background()

	st := checker.Readiness(ctx)
	if !st.OK || !st.Cache || !st.Store {
		t.Errorf("expected all up, got %+v", st)
	}

	cache.failAll = true
	st = checker.Readiness(ctx)
	if st.OK || st.Cache || !st.Store {
		t.Errorf("expected cache down to fail readiness, got %+v", st)
	}

	cache.failAll = false
	store.failAll = true
	st = checker.Readiness(ctx)
	if st.OK || !st.Cache || st.Store {
		t.Errorf("expected store down to fail readiness, got %+v", st)
	}

	if !checker.Liveness() {
		t.Error("liveness should always be true")
	}
}
