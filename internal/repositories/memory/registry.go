// Package memory provides an in-process repositories.Registry used for local
// development and handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

type repoError struct {
	message     string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string      { return e.message }
func (e *repoError) IsNotFound() bool   { return e.notFound }
func (e *repoError) IsConflict() bool   { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFound(kind, id string) error {
	return &repoError{message: fmt.Sprintf("memory: %s %s not found", kind, id), notFound: true}
}

func conflict(kind, id string) error {
	return &repoError{message: fmt.Sprintf("memory: %s %s already exists", kind, id), conflict: true}
}

// nowFunc is swapped in tests exercising expiry.
var nowFunc = time.Now

func key(tenantID, id string) string {
	return strings.TrimSpace(tenantID) + "|" + strings.TrimSpace(id)
}

// Registry is a map-backed registry guarded by a single mutex. RunInTx holds
// the same mutex for the duration of the callback, so transactional sections
// are serialized against every other access.
type Registry struct {
	mu        sync.Mutex
	checkouts map[string]domain.CheckoutSession
	orders    map[string]domain.Order
	endpoints map[string]domain.WebhookEndpoint

	checkoutOrder []string
	orderOrder    []string
	endpointOrder []string
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset drops all stored entities.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkouts = make(map[string]domain.CheckoutSession)
	r.orders = make(map[string]domain.Order)
	r.endpoints = make(map[string]domain.WebhookEndpoint)
	r.checkoutOrder = nil
	r.orderOrder = nil
	r.endpointOrder = nil
}

func (r *Registry) Checkouts() repositories.CheckoutRepository { return &checkoutStore{registry: r} }

func (r *Registry) Orders() repositories.OrderRepository { return &orderStore{registry: r} }

func (r *Registry) WebhookEndpoints() repositories.WebhookEndpointRepository {
	return &endpointStore{registry: r}
}

func (r *Registry) UnitOfWork() repositories.UnitOfWork { return &unitOfWork{registry: r} }

func (r *Registry) Close() error { return nil }

var _ repositories.Registry = (*Registry)(nil)

type txContextKey struct{}

type unitOfWork struct {
	registry *Registry
}

func (u *unitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if ctx.Value(txContextKey{}) != nil {
		return fn(ctx)
	}
	u.registry.mu.Lock()
	defer u.registry.mu.Unlock()
	return fn(context.WithValue(ctx, txContextKey{}, struct{}{}))
}

// lock acquires the registry mutex unless the context already carries the
// transactional hold.
func (r *Registry) lock(ctx context.Context) func() {
	if ctx != nil && ctx.Value(txContextKey{}) != nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

type checkoutStore struct {
	registry *Registry
}

func (s *checkoutStore) Insert(ctx context.Context, session domain.CheckoutSession) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(session.TenantID, session.ID)
	if _, ok := s.registry.checkouts[k]; ok {
		return conflict("checkout session", session.ID)
	}
	s.registry.checkouts[k] = session
	s.registry.checkoutOrder = append(s.registry.checkoutOrder, k)
	return nil
}

func (s *checkoutStore) Update(ctx context.Context, session domain.CheckoutSession) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(session.TenantID, session.ID)
	if _, ok := s.registry.checkouts[k]; !ok {
		return notFound("checkout session", session.ID)
	}
	s.registry.checkouts[k] = session
	return nil
}

func (s *checkoutStore) FindByID(ctx context.Context, tenantID, id string) (domain.CheckoutSession, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()
	session, ok := s.registry.checkouts[key(tenantID, id)]
	if !ok {
		return domain.CheckoutSession{}, notFound("checkout session", id)
	}
	return session, nil
}

func (s *checkoutStore) List(ctx context.Context, filter repositories.CheckoutListFilter) (domain.Page[domain.CheckoutSession], error) {
	unlock := s.registry.lock(ctx)
	defer unlock()

	var matches []domain.CheckoutSession
	for _, k := range s.registry.checkoutOrder {
		session, ok := s.registry.checkouts[k]
		if !ok || session.TenantID != strings.TrimSpace(filter.TenantID) {
			continue
		}
		if filter.Status != "" && session.Status != filter.Status {
			continue
		}
		matches = append(matches, session)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	return paginate(matches, filter.Page), nil
}

func (s *checkoutStore) ListExpired(ctx context.Context, tenantID string, limit int) ([]domain.CheckoutSession, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()

	tenant := strings.TrimSpace(tenantID)
	var expired []domain.CheckoutSession
	for _, k := range s.registry.checkoutOrder {
		session, ok := s.registry.checkouts[k]
		if !ok {
			continue
		}
		if tenant != "" && session.TenantID != tenant {
			continue
		}
		switch session.Status {
		case domain.CheckoutStatusCompleted, domain.CheckoutStatusCanceled:
			continue
		}
		if session.ExpiresAt.IsZero() || session.ExpiresAt.After(nowFunc()) {
			continue
		}
		expired = append(expired, session)
	}
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

type orderStore struct {
	registry *Registry
}

func (s *orderStore) Insert(ctx context.Context, order domain.Order) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(order.TenantID, order.ID)
	if _, ok := s.registry.orders[k]; ok {
		return conflict("order", order.ID)
	}
	s.registry.orders[k] = order
	s.registry.orderOrder = append(s.registry.orderOrder, k)
	return nil
}

func (s *orderStore) Update(ctx context.Context, order domain.Order) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(order.TenantID, order.ID)
	if _, ok := s.registry.orders[k]; !ok {
		return notFound("order", order.ID)
	}
	s.registry.orders[k] = order
	return nil
}

func (s *orderStore) FindByID(ctx context.Context, tenantID, id string) (domain.Order, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()
	order, ok := s.registry.orders[key(tenantID, id)]
	if !ok {
		return domain.Order{}, notFound("order", id)
	}
	return order, nil
}

func (s *orderStore) FindByCheckoutID(ctx context.Context, tenantID, checkoutID string) (domain.Order, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()
	tenant := strings.TrimSpace(tenantID)
	checkout := strings.TrimSpace(checkoutID)
	for _, k := range s.registry.orderOrder {
		order, ok := s.registry.orders[k]
		if ok && order.TenantID == tenant && order.CheckoutID == checkout {
			return order, nil
		}
	}
	return domain.Order{}, notFound("order for checkout", checkoutID)
}

func (s *orderStore) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	unlock := s.registry.lock(ctx)
	defer unlock()

	var matches []domain.Order
	for _, k := range s.registry.orderOrder {
		order, ok := s.registry.orders[k]
		if !ok || order.TenantID != strings.TrimSpace(filter.TenantID) {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		matches = append(matches, order)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	return paginate(matches, filter.Page), nil
}

type endpointStore struct {
	registry *Registry
}

func (s *endpointStore) Insert(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(endpoint.TenantID, endpoint.ID)
	if _, ok := s.registry.endpoints[k]; ok {
		return conflict("webhook endpoint", endpoint.ID)
	}
	s.registry.endpoints[k] = endpoint
	s.registry.endpointOrder = append(s.registry.endpointOrder, k)
	return nil
}

func (s *endpointStore) Update(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(endpoint.TenantID, endpoint.ID)
	if _, ok := s.registry.endpoints[k]; !ok {
		return notFound("webhook endpoint", endpoint.ID)
	}
	s.registry.endpoints[k] = endpoint
	return nil
}

func (s *endpointStore) Delete(ctx context.Context, tenantID, id string) error {
	unlock := s.registry.lock(ctx)
	defer unlock()
	k := key(tenantID, id)
	if _, ok := s.registry.endpoints[k]; !ok {
		return notFound("webhook endpoint", id)
	}
	delete(s.registry.endpoints, k)
	for i, existing := range s.registry.endpointOrder {
		if existing == k {
			s.registry.endpointOrder = append(s.registry.endpointOrder[:i], s.registry.endpointOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *endpointStore) FindByID(ctx context.Context, tenantID, id string) (domain.WebhookEndpoint, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()
	endpoint, ok := s.registry.endpoints[key(tenantID, id)]
	if !ok {
		return domain.WebhookEndpoint{}, notFound("webhook endpoint", id)
	}
	return endpoint, nil
}

func (s *endpointStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	unlock := s.registry.lock(ctx)
	defer unlock()
	tenant := strings.TrimSpace(tenantID)
	var endpoints []domain.WebhookEndpoint
	for _, k := range s.registry.endpointOrder {
		endpoint, ok := s.registry.endpoints[k]
		if ok && endpoint.TenantID == tenant {
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints, nil
}

func paginate[T any](items []T, page domain.PageRequest) domain.Page[T] {
	result := domain.Page[T]{TotalCount: len(items)}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return result
	}
	items = items[offset:]
	if page.Limit > 0 && len(items) > page.Limit {
		items = items[:page.Limit]
	}
	result.Items = append(result.Items, items...)
	return result
}
