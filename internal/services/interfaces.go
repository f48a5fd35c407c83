package services

import (
	"context"
	"time"

	domain "github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	PageRequest       = domain.PageRequest
	CheckoutSession   = domain.CheckoutSession
	CheckoutStatus    = domain.CheckoutStatus
	LineItem          = domain.LineItem
	Buyer             = domain.Buyer
	Address           = domain.Address
	PaymentInstrument = domain.PaymentInstrument
	Total             = domain.Total
	Message           = domain.Message
	Order             = domain.Order
	OrderStatus       = domain.OrderStatus
	Expectation       = domain.Expectation
	FulfillmentEvent  = domain.FulfillmentEvent
	Adjustment        = domain.Adjustment
	CaptureSummary    = domain.CaptureSummary
	WebhookEndpoint   = domain.WebhookEndpoint
)

// CheckoutService manages the mutable checkout session lifecycle from creation
// through completion or cancellation.
type CheckoutService interface {
	Create(ctx context.Context, cmd CreateCheckoutCommand) (CheckoutSession, error)
	Get(ctx context.Context, tenantID, checkoutID string) (CheckoutSession, error)
	List(ctx context.Context, filter CheckoutListFilter) (domain.Page[CheckoutSession], error)
	Update(ctx context.Context, cmd UpdateCheckoutCommand) (CheckoutSession, error)
	AddPaymentInstrument(ctx context.Context, cmd AddInstrumentCommand) (CheckoutSession, error)
	SelectPaymentInstrument(ctx context.Context, cmd SelectInstrumentCommand) (CheckoutSession, error)
	Complete(ctx context.Context, cmd CompleteCheckoutCommand) (CheckoutCompletion, error)
	Cancel(ctx context.Context, cmd CancelCheckoutCommand) (CheckoutSession, error)
	ExpireStale(ctx context.Context, tenantID string, limit int) (int, error)
}

// OrderService exposes order reads and status transitions. CreateFromCheckout
// is invoked internally by checkout completion, never by transport callers.
type OrderService interface {
	CreateFromCheckout(ctx context.Context, cmd CreateOrderFromCheckoutCommand) (Order, error)
	Get(ctx context.Context, tenantID, orderID string) (Order, error)
	GetByCheckoutID(ctx context.Context, tenantID, checkoutID string) (Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// FulfillmentService maintains order expectations and the append-only event log.
type FulfillmentService interface {
	AddExpectation(ctx context.Context, cmd AddExpectationCommand) (Order, error)
	UpdateExpectation(ctx context.Context, cmd UpdateExpectationCommand) (Order, error)
	AppendEvent(ctx context.Context, cmd AppendFulfillmentEventCommand) (Order, error)
	ListEvents(ctx context.Context, tenantID, orderID string) ([]FulfillmentEvent, error)
}

// AdjustmentService records post-order refunds and credits against the order total.
type AdjustmentService interface {
	Append(ctx context.Context, cmd AppendAdjustmentCommand) (Order, error)
	List(ctx context.Context, tenantID, orderID string) ([]Adjustment, error)
}

// WebhookService manages per-tenant endpoint subscriptions. Deactivated
// endpoints remain stored but are excluded from notification lookups.
type WebhookService interface {
	Register(ctx context.Context, cmd RegisterEndpointCommand) (WebhookEndpoint, error)
	Update(ctx context.Context, cmd UpdateEndpointCommand) (WebhookEndpoint, error)
	Deactivate(ctx context.Context, tenantID, endpointID string) (WebhookEndpoint, error)
	Get(ctx context.Context, tenantID, endpointID string) (WebhookEndpoint, error)
	ListActive(ctx context.Context, tenantID string) ([]WebhookEndpoint, error)
}

// EventPublisher fans domain events out to subscribed webhook endpoints.
// Delivery is best effort; callers never block on it.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent)
}

// DomainEvent is the envelope handed to the webhook dispatcher.
type DomainEvent struct {
	ID         string
	TenantID   string
	Type       string
	EntityID   string
	OccurredAt time.Time
	Payload    map[string]any
}

// InstrumentResolver validates a tokenised payment instrument with its handler
// and returns masked display fields.
type InstrumentResolver interface {
	Resolve(ctx context.Context, token string) (PaymentInstrument, error)
}

// ReceiptArchiver stores a rendered order receipt in durable object storage.
type ReceiptArchiver interface {
	Archive(ctx context.Context, order Order) (string, error)
}

// CheckoutListFilter narrows checkout session listings.
type CheckoutListFilter = repositories.CheckoutListFilter

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// CreateCheckoutCommand carries inputs for opening a checkout session.
type CreateCheckoutCommand struct {
	TenantID    string
	Currency    string
	LineItems   []LineItem
	Buyer       *Buyer
	ContinueURL string
	CancelURL   string
	Metadata    map[string]any
	ExpiresIn   time.Duration
}

// UpdateCheckoutCommand patches mutable session fields. Nil pointers leave the
// current value untouched.
type UpdateCheckoutCommand struct {
	TenantID        string
	CheckoutID      string
	LineItems       *[]LineItem
	Buyer           *Buyer
	ShippingAddress *Address
	ContinueURL     *string
	CancelURL       *string
	Metadata        map[string]any
}

// AddInstrumentCommand attaches a tokenised payment instrument to a session.
type AddInstrumentCommand struct {
	TenantID   string
	CheckoutID string
	Token      string
}

// SelectInstrumentCommand picks one of the attached instruments for capture.
type SelectInstrumentCommand struct {
	TenantID     string
	CheckoutID   string
	InstrumentID string
}

// CompleteCheckoutCommand finalizes a ready session into an order.
type CompleteCheckoutCommand struct {
	TenantID      string
	CheckoutID    string
	TransactionID string
}

// CheckoutCompletion pairs the terminal session with the order it produced.
type CheckoutCompletion struct {
	Checkout CheckoutSession
	Order    Order
}

// CancelCheckoutCommand voids an open session.
type CancelCheckoutCommand struct {
	TenantID   string
	CheckoutID string
	Reason     string
}

// CreateOrderFromCheckoutCommand snapshots a completed checkout into an order.
type CreateOrderFromCheckoutCommand struct {
	TenantID string
	Checkout CheckoutSession
	Capture  CaptureSummary
}

// OrderTransitionCommand moves an order to a target lifecycle status.
type OrderTransitionCommand struct {
	TenantID     string
	OrderID      string
	TargetStatus OrderStatus
	Reason       string
}

// CancelOrderCommand cancels an order that has not yet been delivered.
type CancelOrderCommand struct {
	TenantID string
	OrderID  string
	Reason   string
}

// AddExpectationCommand attaches a fulfillment promise to an order.
type AddExpectationCommand struct {
	TenantID      string
	OrderID       string
	Type          domain.ExpectationType
	Description   string
	EstimatedDate *time.Time
	TrackingURL   string
}

// UpdateExpectationCommand patches an existing expectation. Nil pointers leave
// the current value untouched.
type UpdateExpectationCommand struct {
	TenantID      string
	OrderID       string
	ExpectationID string
	Description   *string
	EstimatedDate *time.Time
	TrackingURL   *string
}

// AppendFulfillmentEventCommand records a new order progress fact.
type AppendFulfillmentEventCommand struct {
	TenantID       string
	OrderID        string
	Type           domain.FulfillmentEventType
	Description    string
	TrackingNumber string
	Carrier        string
}

// AppendAdjustmentCommand records a refund or credit against an order.
type AppendAdjustmentCommand struct {
	TenantID string
	OrderID  string
	Type     domain.AdjustmentType
	Amount   int64
	Reason   string
}

// RegisterEndpointCommand subscribes a tenant URL to domain events.
type RegisterEndpointCommand struct {
	TenantID string
	URL      string
	Events   []string
}

// UpdateEndpointCommand patches an endpoint subscription. Nil pointers leave
// the current value untouched.
type UpdateEndpointCommand struct {
	TenantID   string
	EndpointID string
	URL        *string
	Events     *[]string
	Active     *bool
}
