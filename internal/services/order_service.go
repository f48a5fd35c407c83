package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix            = "ord_"
	fulfillmentEventIDPrefix = "evt_"

	defaultPermalinkBase = "/orders"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderCannotCancel indicates the order status forbids cancellation.
	ErrOrderCannotCancel = errors.New("order: cannot cancel")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

var cancellableOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
}

// isValidOrderTransition consults the directed order status table. Backward
// moves are never legal.
func isValidOrderTransition(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	allowed, ok := orderStateTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Events        EventPublisher
	Receipts      ReceiptArchiver
	Logger        func(ctx context.Context, event string, fields map[string]any)
	PermalinkBase string
}

type orderService struct {
	orders        repositories.OrderRepository
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	events        EventPublisher
	receipts      ReceiptArchiver
	logger        func(context.Context, string, map[string]any)
	permalinkBase string
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	base := strings.TrimRight(strings.TrimSpace(deps.PermalinkBase), "/")
	if base == "" {
		base = defaultPermalinkBase
	}

	return &orderService{
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		events:        deps.Events,
		receipts:      deps.Receipts,
		logger:        logger,
		permalinkBase: base,
	}, nil
}

func (s *orderService) CreateFromCheckout(ctx context.Context, cmd CreateOrderFromCheckoutCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Checkout.ID) == "" {
		return Order{}, fmt.Errorf("%w: checkout id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Checkout.LineItems) == 0 {
		return Order{}, fmt.Errorf("%w: checkout must contain at least one line item", ErrOrderInvalidInput)
	}

	now := s.now()
	order := Order{
		ID:                orderIDPrefix + s.newID(),
		TenantID:          tenantID,
		CheckoutID:        cmd.Checkout.ID,
		Currency:          cmd.Checkout.Currency,
		LineItems:         cloneLineItems(cmd.Checkout.LineItems),
		Buyer:             cloneBuyer(cmd.Checkout.Buyer),
		ShippingAddress:   cloneAddress(cmd.Checkout.ShippingAddress),
		Totals:            cloneTotals(cmd.Checkout.Totals),
		Status:            domain.OrderStatusConfirmed,
		Expectations:      []Expectation{},
		FulfillmentEvents: []FulfillmentEvent{},
		Adjustments:       []Adjustment{},
		Capture:           cmd.Capture,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	order.Permalink = s.permalinkBase + "/" + order.ID

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.archiveReceipt(ctx, order)

	s.publish(ctx, orderEventCreated, order, map[string]any{
		"checkoutId": order.CheckoutID,
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByCheckoutID(ctx context.Context, tenantID, checkoutID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	checkoutID = strings.TrimSpace(checkoutID)
	if tenantID == "" || checkoutID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and checkout id are required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByCheckoutID(ctx, tenantID, checkoutID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.Page[Order]{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	if cmd.TargetStatus == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}

	var updated Order
	var prevStatus OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		prevStatus = order.Status
		if !isValidOrderTransition(order.Status, cmd.TargetStatus) {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, cmd.TargetStatus)
		}

		order.Status = cmd.TargetStatus
		order.UpdatedAt = s.now()

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prevStatus != updated.Status {
		s.publish(ctx, orderEventStatusChanged, updated, map[string]any{
			"previousStatus": string(prevStatus),
			"reason":         strings.TrimSpace(cmd.Reason),
		})
	}

	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	var updated Order
	var prevStatus OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		if !slices.Contains(cancellableOrderStatuses, order.Status) {
			return fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderCannotCancel, order.Status)
		}

		now := s.now()
		prevStatus = order.Status
		order.Status = domain.OrderStatusCancelled
		order.FulfillmentEvents = append(order.FulfillmentEvents, FulfillmentEvent{
			ID:          fulfillmentEventIDPrefix + s.newID(),
			Type:        domain.FulfillmentEventCancelled,
			Description: cancelDescription(cmd.Reason),
			Timestamp:   now,
		})
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, orderEventStatusChanged, updated, map[string]any{
		"previousStatus": string(prevStatus),
		"reason":         strings.TrimSpace(cmd.Reason),
	})

	return updated, nil
}

func (s *orderService) load(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// archiveReceipt stores the order receipt in object storage. Failures are
// logged and never surfaced to the caller.
func (s *orderService) archiveReceipt(ctx context.Context, order Order) {
	if s.receipts == nil {
		return
	}
	path, err := s.receipts.Archive(ctx, order)
	if err != nil {
		s.logger(ctx, "order.receipt.archive.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return
	}
	s.logger(ctx, "order.receipt.archived", map[string]any{
		"order": order.ID,
		"path":  path,
	})
}

func (s *orderService) publish(ctx context.Context, eventType string, order Order, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
	}
	for k, v := range extra {
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		payload[k] = v
	}
	s.events.Publish(ctx, DomainEvent{
		ID:         "de_" + s.newID(),
		TenantID:   order.TenantID,
		Type:       eventType,
		EntityID:   order.ID,
		OccurredAt: s.now(),
		Payload:    payload,
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func cancelDescription(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "order cancelled"
	}
	return "order cancelled: " + reason
}

func cloneLineItems(items []LineItem) []LineItem {
	cloned := make([]LineItem, len(items))
	copy(cloned, items)
	return cloned
}

func cloneTotals(totals []Total) []Total {
	cloned := make([]Total, len(totals))
	copy(cloned, totals)
	return cloned
}
