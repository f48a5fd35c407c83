package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

const (
	adjustmentEventAppended = "order.adjustment.appended"

	adjustmentIDPrefix = "adj_"
)

var (
	// ErrAdjustmentInvalidInput signals the caller provided invalid data.
	ErrAdjustmentInvalidInput = errors.New("adjustment: invalid input")
	// ErrRefundExceedsTotal indicates the cumulative refunded amount would pass the order total.
	ErrRefundExceedsTotal = errors.New("adjustment: refund exceeds order total")
)

// TotalRefunded sums the order's refund adjustments. Credits and other
// adjustment types are excluded.
func TotalRefunded(order domain.Order) int64 {
	var total int64
	for _, adjustment := range order.Adjustments {
		if adjustment.Type == domain.AdjustmentTypeRefund {
			total += adjustment.Amount
		}
	}
	return total
}

// CanRefund reports whether the order can still accept refund adjustments.
func CanRefund(order domain.Order) bool {
	if order.Status != domain.OrderStatusDelivered && order.Status != domain.OrderStatusCancelled {
		return false
	}
	return TotalRefunded(order) < order.GrandTotal()
}

// AdjustmentServiceDeps bundles collaborators required to construct the adjustment service.
type AdjustmentServiceDeps struct {
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type adjustmentService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewAdjustmentService wires dependencies into a concrete AdjustmentService implementation.
func NewAdjustmentService(deps AdjustmentServiceDeps) (AdjustmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("adjustment service: order repository is required")
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

	return &adjustmentService{
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *adjustmentService) Append(ctx context.Context, cmd AppendAdjustmentCommand) (Order, error) {
	if cmd.Type == "" {
		return Order{}, fmt.Errorf("%w: adjustment type is required", ErrAdjustmentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrAdjustmentInvalidInput)
	}

	var updated Order
	var prevStatus OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		// The bound is checked against all previously recorded refunds, not
		// just the incoming amount, inside the same transaction that appends.
		grandTotal := order.GrandTotal()
		if cmd.Type == domain.AdjustmentTypeRefund {
			if TotalRefunded(order)+cmd.Amount > grandTotal {
				return fmt.Errorf("%w: refunded %d of %d, requested %d",
					ErrRefundExceedsTotal, TotalRefunded(order), grandTotal, cmd.Amount)
			}
		}

		now := s.now()
		prevStatus = order.Status
		order.Adjustments = append(order.Adjustments, Adjustment{
			ID:        adjustmentIDPrefix + s.newID(),
			Type:      cmd.Type,
			Amount:    cmd.Amount,
			Reason:    strings.TrimSpace(cmd.Reason),
			CreatedAt: now,
		})
		order.UpdatedAt = now

		if cmd.Type == domain.AdjustmentTypeRefund && TotalRefunded(order) == grandTotal {
			if order.Status == domain.OrderStatusDelivered || order.Status == domain.OrderStatusCancelled {
				order.Status = domain.OrderStatusRefunded
			} else {
				s.logger(txCtx, "adjustment.auto_refund.skipped", map[string]any{
					"order":  order.ID,
					"status": string(order.Status),
				})
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, adjustmentEventAppended, updated, map[string]any{
		"adjustmentType": string(cmd.Type),
		"amount":         cmd.Amount,
	})
	if prevStatus != updated.Status {
		s.publish(ctx, orderEventStatusChanged, updated, map[string]any{
			"previousStatus": string(prevStatus),
		})
	}

	return updated, nil
}

func (s *adjustmentService) List(ctx context.Context, tenantID, orderID string) ([]Adjustment, error) {
	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	adjustments := make([]Adjustment, len(order.Adjustments))
	copy(adjustments, order.Adjustments)
	return adjustments, nil
}

func (s *adjustmentService) load(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrAdjustmentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *adjustmentService) publish(ctx context.Context, eventType string, order Order, extra map[string]any) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
	}
	for k, v := range extra {
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

func (s *adjustmentService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("adjustment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *adjustmentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *adjustmentService) now() time.Time {
	return s.clock()
}
