package repositories

import (
	"context"

	"github.com/payforge/api/internal/domain"
)

// RepositoryError lets services classify persistence failures without
// depending on a concrete backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CheckoutListFilter narrows checkout session listings.
type CheckoutListFilter struct {
	TenantID string
	Status   domain.CheckoutStatus
	Page     domain.PageRequest
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	TenantID string
	Status   domain.OrderStatus
	Page     domain.PageRequest
}

// CheckoutRepository persists checkout sessions keyed by tenant and id.
type CheckoutRepository interface {
	Insert(ctx context.Context, session domain.CheckoutSession) error
	Update(ctx context.Context, session domain.CheckoutSession) error
	FindByID(ctx context.Context, tenantID, id string) (domain.CheckoutSession, error)
	List(ctx context.Context, filter CheckoutListFilter) (domain.Page[domain.CheckoutSession], error)
	// ListExpired returns sessions past their expiry that are not yet terminal.
	ListExpired(ctx context.Context, tenantID string, limit int) ([]domain.CheckoutSession, error)
}

// OrderRepository persists orders keyed by tenant and id.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, tenantID, id string) (domain.Order, error)
	FindByCheckoutID(ctx context.Context, tenantID, checkoutID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
}

// WebhookEndpointRepository persists per-tenant webhook subscriptions.
type WebhookEndpointRepository interface {
	Insert(ctx context.Context, endpoint domain.WebhookEndpoint) error
	Update(ctx context.Context, endpoint domain.WebhookEndpoint) error
	Delete(ctx context.Context, tenantID, id string) error
	FindByID(ctx context.Context, tenantID, id string) (domain.WebhookEndpoint, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error)
}

// UnitOfWork runs a function with transactional semantics when the backend
// supports it. Implementations must serialize concurrent mutations to the
// same entity.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Registry aggregates repository access for a single backend.
type Registry interface {
	Checkouts() CheckoutRepository
	Orders() OrderRepository
	WebhookEndpoints() WebhookEndpointRepository
	UnitOfWork() UnitOfWork
	Close() error
}
