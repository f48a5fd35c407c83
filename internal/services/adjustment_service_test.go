package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/payforge/api/internal/domain"
)

func newAdjustmentFixture(t *testing.T) (AdjustmentService, *memoryOrderRepo, *captureEvents) {
	t.Helper()

	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	events := &captureEvents{}

	svc, err := NewAdjustmentService(AdjustmentServiceDeps{
		Orders:      repo,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs(),
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new adjustment service: %v", err)
	}
	return svc, repo, events
}

func TestAppendRefundWithinBound(t *testing.T) {
	svc, repo, _ := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusDelivered)

	updated, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeRefund,
		Amount:   2400,
		Reason:   "damaged item",
	})
	if err != nil {
		t.Fatalf("append refund: %v", err)
	}
	if len(updated.Adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(updated.Adjustments))
	}
	adjustment := updated.Adjustments[0]
	if adjustment.ID[:4] != "adj_" {
		t.Fatalf("unexpected adjustment id %q", adjustment.ID)
	}
	if TotalRefunded(updated) != 2400 {
		t.Fatalf("TotalRefunded = %d, want 2400", TotalRefunded(updated))
	}
	if updated.Status != domain.OrderStatusDelivered {
		t.Fatalf("partial refund must not change status, got %q", updated.Status)
	}
}

func TestAppendRefundExceedsTotal(t *testing.T) {
	svc, repo, _ := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusDelivered)

	if _, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeRefund,
		Amount:   2400,
	}); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	_, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeRefund,
		Amount:   200,
	})
	if !errors.Is(err, ErrRefundExceedsTotal) {
		t.Fatalf("expected refund bound error, got %v", err)
	}

	stored, findErr := repo.FindByID(context.Background(), "tn_1", "ord_1")
	if findErr != nil {
		t.Fatalf("reload order: %v", findErr)
	}
	if len(stored.Adjustments) != 1 {
		t.Fatalf("rejected refund must not persist, got %d adjustments", len(stored.Adjustments))
	}
}

func TestExactRefundMarksOrderRefunded(t *testing.T) {
	svc, repo, events := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusDelivered)

	for _, amount := range []int64{1500, 1000} {
		if _, err := svc.Append(context.Background(), AppendAdjustmentCommand{
			TenantID: "tn_1",
			OrderID:  "ord_1",
			Type:     domain.AdjustmentTypeRefund,
			Amount:   amount,
		}); err != nil {
			t.Fatalf("refund %d: %v", amount, err)
		}
	}

	stored, err := repo.FindByID(context.Background(), "tn_1", "ord_1")
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if stored.Status != domain.OrderStatusRefunded {
		t.Fatalf("status = %q, want refunded", stored.Status)
	}

	var sawStatusChange bool
	for _, event := range events.events {
		if event.Type == orderEventStatusChanged {
			sawStatusChange = true
		}
	}
	if !sawStatusChange {
		t.Fatal("expected a status change event on full refund")
	}
}

func TestCreditsDoNotCountTowardRefunds(t *testing.T) {
	svc, repo, _ := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusDelivered)

	if _, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeCredit,
		Amount:   100,
		Reason:   "goodwill",
	}); err != nil {
		t.Fatalf("append credit: %v", err)
	}

	updated, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeRefund,
		Amount:   500,
	})
	if err != nil {
		t.Fatalf("append refund: %v", err)
	}
	if TotalRefunded(updated) != 500 {
		t.Fatalf("TotalRefunded = %d, want 500", TotalRefunded(updated))
	}
	if updated.Status != domain.OrderStatusDelivered {
		t.Fatalf("credits must not trigger a refunded transition, got %q", updated.Status)
	}
}

func TestFullRefundSkippedOutsideRefundableStatus(t *testing.T) {
	svc, repo, _ := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusConfirmed)

	updated, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1",
		OrderID:  "ord_1",
		Type:     domain.AdjustmentTypeRefund,
		Amount:   2500,
	})
	if err != nil {
		t.Fatalf("append refund: %v", err)
	}
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", updated.Status)
	}
	if TotalRefunded(updated) != 2500 {
		t.Fatalf("TotalRefunded = %d, want 2500", TotalRefunded(updated))
	}
}

func TestCanRefund(t *testing.T) {
	base := domain.Order{
		Totals: []domain.Total{
			{Type: domain.TotalTypeTotal, Amount: 2500, Currency: "USD"},
		},
	}

	cases := []struct {
		name     string
		status   domain.OrderStatus
		refunded int64
		want     bool
	}{
		{name: "delivered with headroom", status: domain.OrderStatusDelivered, want: true},
		{name: "cancelled with headroom", status: domain.OrderStatusCancelled, want: true},
		{name: "confirmed", status: domain.OrderStatusConfirmed, want: false},
		{name: "processing", status: domain.OrderStatusProcessing, want: false},
		{name: "shipped", status: domain.OrderStatusShipped, want: false},
		{name: "refunded", status: domain.OrderStatusRefunded, want: false},
		{name: "delivered exhausted", status: domain.OrderStatusDelivered, refunded: 2500, want: false},
	}
	for _, tc := range cases {
		order := base
		order.Status = tc.status
		if tc.refunded > 0 {
			order.Adjustments = []domain.Adjustment{
				{ID: "adj_seed", Type: domain.AdjustmentTypeRefund, Amount: tc.refunded},
			}
		}
		if got := CanRefund(order); got != tc.want {
			t.Fatalf("%s: CanRefund = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestListAdjustments(t *testing.T) {
	svc, repo, _ := newAdjustmentFixture(t)
	seedStoredOrder(t, repo, domain.OrderStatusDelivered)

	if _, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1", OrderID: "ord_1", Type: domain.AdjustmentTypeRefund, Amount: 300,
	}); err != nil {
		t.Fatalf("append refund: %v", err)
	}
	if _, err := svc.Append(context.Background(), AppendAdjustmentCommand{
		TenantID: "tn_1", OrderID: "ord_1", Type: domain.AdjustmentTypeCredit, Amount: 150,
	}); err != nil {
		t.Fatalf("append credit: %v", err)
	}

	listed, err := svc.List(context.Background(), "tn_1", "ord_1")
	if err != nil {
		t.Fatalf("list adjustments: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d adjustments, want 2", len(listed))
	}
	if listed[0].Type != domain.AdjustmentTypeRefund || listed[1].Type != domain.AdjustmentTypeCredit {
		t.Fatalf("unexpected ordering: %+v", listed)
	}
}
