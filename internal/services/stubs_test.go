package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

type stubCheckoutRepo struct {
	insertFn      func(context.Context, domain.CheckoutSession) error
	updateFn      func(context.Context, domain.CheckoutSession) error
	findFn        func(context.Context, string, string) (domain.CheckoutSession, error)
	listFn        func(context.Context, repositories.CheckoutListFilter) (domain.Page[domain.CheckoutSession], error)
	listExpiredFn func(context.Context, string, int) ([]domain.CheckoutSession, error)
}

func (s *stubCheckoutRepo) Insert(ctx context.Context, session domain.CheckoutSession) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, session)
	}
	return nil
}

func (s *stubCheckoutRepo) Update(ctx context.Context, session domain.CheckoutSession) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, session)
	}
	return nil
}

func (s *stubCheckoutRepo) FindByID(ctx context.Context, tenantID, id string) (domain.CheckoutSession, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tenantID, id)
	}
	return domain.CheckoutSession{}, errors.New("not implemented")
}

func (s *stubCheckoutRepo) List(ctx context.Context, filter repositories.CheckoutListFilter) (domain.Page[domain.CheckoutSession], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[domain.CheckoutSession]{}, nil
}

func (s *stubCheckoutRepo) ListExpired(ctx context.Context, tenantID string, limit int) ([]domain.CheckoutSession, error) {
	if s.listExpiredFn != nil {
		return s.listExpiredFn(ctx, tenantID, limit)
	}
	return nil, nil
}

type stubOrderRepo struct {
	insertFn         func(context.Context, domain.Order) error
	updateFn         func(context.Context, domain.Order) error
	findFn           func(context.Context, string, string) (domain.Order, error)
	findByCheckoutFn func(context.Context, string, string) (domain.Order, error)
	listFn           func(context.Context, repositories.OrderListFilter) (domain.Page[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, tenantID, id string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tenantID, id)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) FindByCheckoutID(ctx context.Context, tenantID, checkoutID string) (domain.Order, error) {
	if s.findByCheckoutFn != nil {
		return s.findByCheckoutFn(ctx, tenantID, checkoutID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.Page[domain.Order]{}, nil
}

type stubEndpointRepo struct {
	insertFn func(context.Context, domain.WebhookEndpoint) error
	updateFn func(context.Context, domain.WebhookEndpoint) error
	deleteFn func(context.Context, string, string) error
	findFn   func(context.Context, string, string) (domain.WebhookEndpoint, error)
	listFn   func(context.Context, string) ([]domain.WebhookEndpoint, error)
}

func (s *stubEndpointRepo) Insert(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, endpoint)
	}
	return nil
}

func (s *stubEndpointRepo) Update(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, endpoint)
	}
	return nil
}

func (s *stubEndpointRepo) Delete(ctx context.Context, tenantID, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, tenantID, id)
	}
	return nil
}

func (s *stubEndpointRepo) FindByID(ctx context.Context, tenantID, id string) (domain.WebhookEndpoint, error) {
	if s.findFn != nil {
		return s.findFn(ctx, tenantID, id)
	}
	return domain.WebhookEndpoint{}, errors.New("not implemented")
}

func (s *stubEndpointRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	if s.listFn != nil {
		return s.listFn(ctx, tenantID)
	}
	return nil, nil
}

type captureEvents struct {
	events []DomainEvent
}

func (c *captureEvents) Publish(_ context.Context, event DomainEvent) {
	c.events = append(c.events, event)
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type stubResolver struct {
	resolveFn func(context.Context, string) (PaymentInstrument, error)
}

func (s *stubResolver) Resolve(ctx context.Context, token string) (PaymentInstrument, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, token)
	}
	return PaymentInstrument{ID: token, Handler: "stub", Type: "card"}, nil
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string       { return "record not found" }
func (notFoundRepoError) IsNotFound() bool    { return true }
func (notFoundRepoError) IsConflict() bool    { return false }
func (notFoundRepoError) IsUnavailable() bool { return false }

// memoryCheckoutRepo keeps the latest persisted session so multi-step flows
// can observe intermediate writes.
type memoryCheckoutRepo struct {
	sessions map[string]domain.CheckoutSession
}

func newMemoryCheckoutRepo() *memoryCheckoutRepo {
	return &memoryCheckoutRepo{sessions: map[string]domain.CheckoutSession{}}
}

func (m *memoryCheckoutRepo) key(tenantID, id string) string { return tenantID + "/" + id }

func (m *memoryCheckoutRepo) Insert(_ context.Context, session domain.CheckoutSession) error {
	m.sessions[m.key(session.TenantID, session.ID)] = session
	return nil
}

func (m *memoryCheckoutRepo) Update(_ context.Context, session domain.CheckoutSession) error {
	key := m.key(session.TenantID, session.ID)
	if _, ok := m.sessions[key]; !ok {
		return notFoundRepoError{}
	}
	m.sessions[key] = session
	return nil
}

func (m *memoryCheckoutRepo) FindByID(_ context.Context, tenantID, id string) (domain.CheckoutSession, error) {
	session, ok := m.sessions[m.key(tenantID, id)]
	if !ok {
		return domain.CheckoutSession{}, notFoundRepoError{}
	}
	return session, nil
}

func (m *memoryCheckoutRepo) List(_ context.Context, filter repositories.CheckoutListFilter) (domain.Page[domain.CheckoutSession], error) {
	var items []domain.CheckoutSession
	for _, session := range m.sessions {
		if session.TenantID == filter.TenantID {
			items = append(items, session)
		}
	}
	return domain.Page[domain.CheckoutSession]{Items: items, TotalCount: len(items)}, nil
}

func (m *memoryCheckoutRepo) ListExpired(_ context.Context, tenantID string, limit int) ([]domain.CheckoutSession, error) {
	var items []domain.CheckoutSession
	for _, session := range m.sessions {
		if session.TenantID == tenantID && len(items) < limit {
			items = append(items, session)
		}
	}
	return items, nil
}

// memoryOrderRepo mirrors memoryCheckoutRepo for order aggregates.
type memoryOrderRepo struct {
	orders map[string]domain.Order
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: map[string]domain.Order{}}
}

func (m *memoryOrderRepo) key(tenantID, id string) string { return tenantID + "/" + id }

func (m *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	m.orders[m.key(order.TenantID, order.ID)] = order
	return nil
}

func (m *memoryOrderRepo) Update(_ context.Context, order domain.Order) error {
	key := m.key(order.TenantID, order.ID)
	if _, ok := m.orders[key]; !ok {
		return notFoundRepoError{}
	}
	m.orders[key] = order
	return nil
}

func (m *memoryOrderRepo) FindByID(_ context.Context, tenantID, id string) (domain.Order, error) {
	order, ok := m.orders[m.key(tenantID, id)]
	if !ok {
		return domain.Order{}, notFoundRepoError{}
	}
	return order, nil
}

func (m *memoryOrderRepo) FindByCheckoutID(_ context.Context, tenantID, checkoutID string) (domain.Order, error) {
	for _, order := range m.orders {
		if order.TenantID == tenantID && order.CheckoutID == checkoutID {
			return order, nil
		}
	}
	return domain.Order{}, notFoundRepoError{}
}

func (m *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	var items []domain.Order
	for _, order := range m.orders {
		if order.TenantID == filter.TenantID {
			items = append(items, order)
		}
	}
	return domain.Page[domain.Order]{Items: items, TotalCount: len(items)}, nil
}

// memoryEndpointRepo keeps webhook endpoints in insertion order.
type memoryEndpointRepo struct {
	endpoints []domain.WebhookEndpoint
}

func (m *memoryEndpointRepo) Insert(_ context.Context, endpoint domain.WebhookEndpoint) error {
	m.endpoints = append(m.endpoints, endpoint)
	return nil
}

func (m *memoryEndpointRepo) Update(_ context.Context, endpoint domain.WebhookEndpoint) error {
	for i, existing := range m.endpoints {
		if existing.TenantID == endpoint.TenantID && existing.ID == endpoint.ID {
			m.endpoints[i] = endpoint
			return nil
		}
	}
	return notFoundRepoError{}
}

func (m *memoryEndpointRepo) Delete(_ context.Context, tenantID, id string) error {
	for i, existing := range m.endpoints {
		if existing.TenantID == tenantID && existing.ID == id {
			m.endpoints = append(m.endpoints[:i], m.endpoints[i+1:]...)
			return nil
		}
	}
	return notFoundRepoError{}
}

func (m *memoryEndpointRepo) FindByID(_ context.Context, tenantID, id string) (domain.WebhookEndpoint, error) {
	for _, existing := range m.endpoints {
		if existing.TenantID == tenantID && existing.ID == id {
			return existing, nil
		}
	}
	return domain.WebhookEndpoint{}, notFoundRepoError{}
}

func (m *memoryEndpointRepo) ListByTenant(_ context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	var items []domain.WebhookEndpoint
	for _, existing := range m.endpoints {
		if existing.TenantID == tenantID {
			items = append(items, existing)
		}
	}
	return items, nil
}

// sequentialIDs returns an id generator yielding id-1, id-2, ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
