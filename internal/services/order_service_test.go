package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/payforge/api/internal/domain"
)

func newOrderFixture(t *testing.T) (OrderService, *memoryOrderRepo, *captureEvents, time.Time) {
	t.Helper()

	now := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	repo := newMemoryOrderRepo()
	events := &captureEvents{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      repo,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs(),
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc, repo, events, now
}

func seedOrder(t *testing.T, svc OrderService) Order {
	t.Helper()

	checkout := readySession()
	checkout.Totals = CalculateTotals(checkout.LineItems, checkout.Currency, TotalsOptions{})

	order, err := svc.CreateFromCheckout(context.Background(), CreateOrderFromCheckoutCommand{
		TenantID: checkout.TenantID,
		Checkout: checkout,
		Capture: CaptureSummary{
			Handler:       "stripe",
			InstrumentID:  checkout.SelectedInstrumentID,
			TransactionID: "txn_1",
		},
	})
	if err != nil {
		t.Fatalf("create order from checkout: %v", err)
	}
	return order
}

func TestIsValidOrderTransition(t *testing.T) {
	cases := []struct {
		from  domain.OrderStatus
		to    domain.OrderStatus
		legal bool
	}{
		{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, true},
		{domain.OrderStatusProcessing, domain.OrderStatusShipped, true},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusDelivered, domain.OrderStatusRefunded, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, true},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, true},
		{domain.OrderStatusShipped, domain.OrderStatusProcessing, false},
		{domain.OrderStatusDelivered, domain.OrderStatusShipped, false},
		{domain.OrderStatusDelivered, domain.OrderStatusCancelled, false},
		{domain.OrderStatusConfirmed, domain.OrderStatusShipped, false},
		{domain.OrderStatusRefunded, domain.OrderStatusConfirmed, false},
		{domain.OrderStatusCancelled, domain.OrderStatusProcessing, false},
	}

	for _, tc := range cases {
		if got := isValidOrderTransition(tc.from, tc.to); got != tc.legal {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.legal)
		}
	}
}

func TestOrderCreateFromCheckoutSnapshots(t *testing.T) {
	svc, repo, events, now := newOrderFixture(t)

	order := seedOrder(t, svc)

	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("status = %q, want confirmed", order.Status)
	}
	if order.ID[:4] != "ord_" {
		t.Fatalf("unexpected id %q", order.ID)
	}
	if order.CheckoutID != "chk_1" {
		t.Fatalf("checkout id = %q, want chk_1", order.CheckoutID)
	}
	if order.Permalink != "/orders/"+order.ID {
		t.Fatalf("permalink = %q", order.Permalink)
	}
	if !order.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", order.CreatedAt, now)
	}
	if len(order.LineItems) != 1 || order.LineItems[0].ID != "li-1" {
		t.Fatalf("line items not snapshotted: %+v", order.LineItems)
	}

	byCheckout, err := svc.GetByCheckoutID(context.Background(), "tn_1", "chk_1")
	if err != nil {
		t.Fatalf("get by checkout id: %v", err)
	}
	if byCheckout.ID != order.ID {
		t.Fatalf("lookup by checkout returned %q, want %q", byCheckout.ID, order.ID)
	}

	if _, err := repo.FindByID(context.Background(), "tn_1", order.ID); err != nil {
		t.Fatalf("order not persisted: %v", err)
	}

	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("expected a single order.created event, got %+v", events.events)
	}
}

func TestOrderCreateFromCheckoutRejectsEmptyItems(t *testing.T) {
	svc, _, _, _ := newOrderFixture(t)

	checkout := readySession()
	checkout.LineItems = nil

	_, err := svc.CreateFromCheckout(context.Background(), CreateOrderFromCheckoutCommand{
		TenantID: "tn_1",
		Checkout: checkout,
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderTransitionStatus(t *testing.T) {
	svc, _, events, _ := newOrderFixture(t)
	order := seedOrder(t, svc)

	updated, err := svc.TransitionStatus(context.Background(), OrderTransitionCommand{
		TenantID:     "tn_1",
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("transition to processing: %v", err)
	}
	if updated.Status != domain.OrderStatusProcessing {
		t.Fatalf("status = %q, want processing", updated.Status)
	}

	_, err = svc.TransitionStatus(context.Background(), OrderTransitionCommand{
		TenantID:     "tn_1",
		OrderID:      order.ID,
		TargetStatus: domain.OrderStatusConfirmed,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("backward transition must fail, got %v", err)
	}

	var changed *DomainEvent
	for i := range events.events {
		if events.events[i].Type == orderEventStatusChanged {
			changed = &events.events[i]
		}
	}
	if changed == nil {
		t.Fatal("expected order.status.changed event")
	}
	if changed.Payload["previousStatus"] != string(domain.OrderStatusConfirmed) {
		t.Fatalf("previous status payload = %v", changed.Payload["previousStatus"])
	}
}

func TestOrderCancelRecordsSingleEvent(t *testing.T) {
	svc, _, _, _ := newOrderFixture(t)
	order := seedOrder(t, svc)

	cancelled, err := svc.Cancel(context.Background(), CancelOrderCommand{
		TenantID: "tn_1",
		OrderID:  order.ID,
		Reason:   "out of stock",
	})
	if err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}
	if len(cancelled.FulfillmentEvents) != 1 {
		t.Fatalf("expected exactly one fulfillment event, got %d", len(cancelled.FulfillmentEvents))
	}
	if cancelled.FulfillmentEvents[0].Type != domain.FulfillmentEventCancelled {
		t.Fatalf("event type = %q, want cancelled", cancelled.FulfillmentEvents[0].Type)
	}
}

func TestOrderCancelDeliveredFails(t *testing.T) {
	svc, repo, _, _ := newOrderFixture(t)
	order := seedOrder(t, svc)

	stored, _ := repo.FindByID(context.Background(), "tn_1", order.ID)
	stored.Status = domain.OrderStatusDelivered
	if err := repo.Update(context.Background(), stored); err != nil {
		t.Fatalf("seed delivered order: %v", err)
	}

	_, err := svc.Cancel(context.Background(), CancelOrderCommand{
		TenantID: "tn_1",
		OrderID:  order.ID,
	})
	if !errors.Is(err, ErrOrderCannotCancel) {
		t.Fatalf("expected cannot cancel, got %v", err)
	}
}

func TestOrderGetTenantScoped(t *testing.T) {
	svc, _, _, _ := newOrderFixture(t)
	order := seedOrder(t, svc)

	if _, err := svc.Get(context.Background(), "tn_other", order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("tenant mismatch must read as not found, got %v", err)
	}
}

func TestOrderListScopedToTenant(t *testing.T) {
	svc, _, _, _ := newOrderFixture(t)
	seedOrder(t, svc)

	page, err := svc.List(context.Background(), OrderListFilter{TenantID: "tn_1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if page.TotalCount != 1 {
		t.Fatalf("total = %d, want 1", page.TotalCount)
	}
}
