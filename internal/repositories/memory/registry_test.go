package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

func TestCheckoutStoreInsertConflict(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	session := domain.CheckoutSession{ID: "chk_1", TenantID: "tn_1", Status: domain.CheckoutStatusIncomplete}
	if err := registry.Checkouts().Insert(ctx, session); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := registry.Checkouts().Insert(ctx, session)
	if err == nil {
		t.Fatal("expected conflict on duplicate insert")
	}
	var repoErr repositories.RepositoryError
	if !asRepoError(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict repository error, got %v", err)
	}
}

func TestCheckoutStoreTenantIsolation(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	if err := registry.Checkouts().Insert(ctx, domain.CheckoutSession{ID: "chk_1", TenantID: "tn_1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err := registry.Checkouts().FindByID(ctx, "tn_2", "chk_1")
	var repoErr repositories.RepositoryError
	if !asRepoError(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}
}

func TestCheckoutStoreListExpired(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	now := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
	restore := nowFunc
	nowFunc = func() time.Time { return now }
	defer func() { nowFunc = restore }()

	sessions := []domain.CheckoutSession{
		{ID: "chk_stale", TenantID: "tn_1", Status: domain.CheckoutStatusIncomplete, ExpiresAt: now.Add(-time.Hour)},
		{ID: "chk_live", TenantID: "tn_1", Status: domain.CheckoutStatusIncomplete, ExpiresAt: now.Add(time.Hour)},
		{ID: "chk_done", TenantID: "tn_1", Status: domain.CheckoutStatusCompleted, ExpiresAt: now.Add(-2 * time.Hour)},
	}
	for _, session := range sessions {
		if err := registry.Checkouts().Insert(ctx, session); err != nil {
			t.Fatalf("insert %s: %v", session.ID, err)
		}
	}

	expired, err := registry.Checkouts().ListExpired(ctx, "tn_1", 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "chk_stale" {
		t.Fatalf("expected only chk_stale, got %+v", expired)
	}
}

func TestOrderStoreListPagination(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	base := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		order := domain.Order{
			ID:        string(rune('a'+i)) + "_ord",
			TenantID:  "tn_1",
			Status:    domain.OrderStatusConfirmed,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := registry.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{
		TenantID: "tn_1",
		Page:     domain.PageRequest{Limit: 2, Offset: 1},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.TotalCount != 5 {
		t.Fatalf("expected total 5, got %d", page.TotalCount)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	// Newest first, so offset 1 starts at the second newest.
	if page.Items[0].ID != "d_ord" || page.Items[1].ID != "c_ord" {
		t.Fatalf("unexpected ordering: %s, %s", page.Items[0].ID, page.Items[1].ID)
	}
}

func TestUnitOfWorkSerializesMutations(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	if err := registry.Checkouts().Insert(ctx, domain.CheckoutSession{ID: "chk_1", TenantID: "tn_1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := registry.UnitOfWork().RunInTx(ctx, func(txCtx context.Context) error {
		session, err := registry.Checkouts().FindByID(txCtx, "tn_1", "chk_1")
		if err != nil {
			return err
		}
		session.Status = domain.CheckoutStatusCanceled
		return registry.Checkouts().Update(txCtx, session)
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}

	session, err := registry.Checkouts().FindByID(ctx, "tn_1", "chk_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if session.Status != domain.CheckoutStatusCanceled {
		t.Fatalf("expected canceled, got %s", session.Status)
	}
}

func TestEndpointStoreDelete(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	endpoint := domain.WebhookEndpoint{ID: "whep_1", TenantID: "tn_1", URL: "https://hooks.example.com", Active: true}
	if err := registry.WebhookEndpoints().Insert(ctx, endpoint); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := registry.WebhookEndpoints().Delete(ctx, "tn_1", "whep_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	listed, err := registry.WebhookEndpoints().ListByTenant(ctx, "tn_1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected empty list, got %d", len(listed))
	}
}

func asRepoError(err error, target *repositories.RepositoryError) bool {
	var concrete *repoError
	if !errors.As(err, &concrete) {
		return false
	}
	*target = concrete
	return true
}
