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
	fulfillmentEventExpectationAdded   = "order.expectation.added"
	fulfillmentEventExpectationUpdated = "order.expectation.updated"
	fulfillmentEventAppended           = "order.fulfillment.event.appended"

	expectationIDPrefix = "exp_"
)

var (
	// ErrFulfillmentInvalidInput signals the caller provided invalid data.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrExpectationNotFound indicates the referenced expectation id is absent.
	ErrExpectationNotFound = errors.New("fulfillment: expectation not found")
)

// fulfillmentEventStatusMapping drives the auto-transition attempted after an
// event is appended. The transition still obeys the order status table.
var fulfillmentEventStatusMapping = map[domain.FulfillmentEventType]domain.OrderStatus{
	domain.FulfillmentEventShipped:   domain.OrderStatusShipped,
	domain.FulfillmentEventDelivered: domain.OrderStatusDelivered,
}

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Orders      repositories.OrderRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("fulfillment service: order repository is required")
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

	return &fulfillmentService{
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

func (s *fulfillmentService) AddExpectation(ctx context.Context, cmd AddExpectationCommand) (Order, error) {
	if cmd.Type == "" {
		return Order{}, fmt.Errorf("%w: expectation type is required", ErrFulfillmentInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		expectation := Expectation{
			ID:            expectationIDPrefix + s.newID(),
			Type:          cmd.Type,
			Description:   strings.TrimSpace(cmd.Description),
			EstimatedDate: cloneTimePtr(cmd.EstimatedDate),
			TrackingURL:   strings.TrimSpace(cmd.TrackingURL),
		}
		order.Expectations = append(order.Expectations, expectation)
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

	s.publish(ctx, fulfillmentEventExpectationAdded, updated, nil)

	return updated, nil
}

func (s *fulfillmentService) UpdateExpectation(ctx context.Context, cmd UpdateExpectationCommand) (Order, error) {
	expectationID := strings.TrimSpace(cmd.ExpectationID)
	if expectationID == "" {
		return Order{}, fmt.Errorf("%w: expectation id is required", ErrFulfillmentInvalidInput)
	}

	var updated Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		index := -1
		for i, expectation := range order.Expectations {
			if expectation.ID == expectationID {
				index = i
				break
			}
		}
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrExpectationNotFound, expectationID)
		}

		expectation := order.Expectations[index]
		if cmd.Description != nil {
			expectation.Description = strings.TrimSpace(*cmd.Description)
		}
		if cmd.EstimatedDate != nil {
			expectation.EstimatedDate = cloneTimePtr(cmd.EstimatedDate)
		}
		if cmd.TrackingURL != nil {
			expectation.TrackingURL = strings.TrimSpace(*cmd.TrackingURL)
		}
		order.Expectations[index] = expectation
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

	s.publish(ctx, fulfillmentEventExpectationUpdated, updated, nil)

	return updated, nil
}

func (s *fulfillmentService) AppendEvent(ctx context.Context, cmd AppendFulfillmentEventCommand) (Order, error) {
	if cmd.Type == "" {
		return Order{}, fmt.Errorf("%w: event type is required", ErrFulfillmentInvalidInput)
	}

	var updated Order
	var prevStatus OrderStatus
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		order, err := s.load(txCtx, cmd.TenantID, cmd.OrderID)
		if err != nil {
			return err
		}

		now := s.now()
		prevStatus = order.Status
		event := FulfillmentEvent{
			ID:             fulfillmentEventIDPrefix + s.newID(),
			Type:           cmd.Type,
			Description:    strings.TrimSpace(cmd.Description),
			Timestamp:      now,
			TrackingNumber: strings.TrimSpace(cmd.TrackingNumber),
			Carrier:        strings.TrimSpace(cmd.Carrier),
		}
		order.FulfillmentEvents = append(order.FulfillmentEvents, event)
		order.UpdatedAt = now

		if target, ok := fulfillmentEventStatusMapping[cmd.Type]; ok {
			if isValidOrderTransition(order.Status, target) {
				order.Status = target
			} else {
				s.logger(txCtx, "fulfillment.auto_transition.skipped", map[string]any{
					"order":  order.ID,
					"from":   string(order.Status),
					"target": string(target),
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

	s.publish(ctx, fulfillmentEventAppended, updated, map[string]any{
		"eventType": string(cmd.Type),
	})
	if prevStatus != updated.Status {
		s.publish(ctx, orderEventStatusChanged, updated, map[string]any{
			"previousStatus": string(prevStatus),
		})
	}

	return updated, nil
}

// ListEvents returns the order's fulfillment events in insertion order.
func (s *fulfillmentService) ListEvents(ctx context.Context, tenantID, orderID string) ([]FulfillmentEvent, error) {
	order, err := s.load(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	events := make([]FulfillmentEvent, len(order.FulfillmentEvents))
	copy(events, order.FulfillmentEvents)
	return events, nil
}

func (s *fulfillmentService) load(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrFulfillmentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *fulfillmentService) publish(ctx context.Context, eventType string, order Order, extra map[string]any) {
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

func (s *fulfillmentService) mapRepositoryError(err error) error {
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
			return fmt.Errorf("fulfillment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *fulfillmentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *fulfillmentService) now() time.Time {
	return s.clock()
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	cloned := value.UTC()
	return &cloned
}
