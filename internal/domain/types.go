package domain

import (
	"time"
)

// PageRequest defines standard limit/offset paging inputs for list operations.
type PageRequest struct {
	Limit  int
	Offset int
}

// Page packages list results together with the total number of matching records.
type Page[T any] struct {
	Items      []T
	TotalCount int
}

// CheckoutStatus enumerates valid lifecycle states for checkout sessions.
type CheckoutStatus string

const (
	// CheckoutStatusIncomplete indicates the session is missing required fields.
	CheckoutStatusIncomplete CheckoutStatus = "incomplete"
	// CheckoutStatusRequiresEscalation indicates blocking errors need buyer input before progressing.
	CheckoutStatusRequiresEscalation CheckoutStatus = "requires_escalation"
	// CheckoutStatusReadyForComplete indicates all requirements are satisfied and the session may complete.
	CheckoutStatusReadyForComplete CheckoutStatus = "ready_for_complete"
	// CheckoutStatusCompleteInProgress indicates completion has started and an order is being created.
	CheckoutStatusCompleteInProgress CheckoutStatus = "complete_in_progress"
	// CheckoutStatusCompleted indicates the session produced an order. Terminal.
	CheckoutStatusCompleted CheckoutStatus = "completed"
	// CheckoutStatusCanceled indicates the session was canceled. Terminal.
	CheckoutStatusCanceled CheckoutStatus = "canceled"
)

// MessageType classifies diagnostic messages attached to a checkout session.
type MessageType string

const (
	MessageTypeError   MessageType = "error"
	MessageTypeWarning MessageType = "warning"
	MessageTypeInfo    MessageType = "info"
)

// MessageSeverity distinguishes blocking from recoverable error messages.
// Only meaningful when the message type is error.
type MessageSeverity string

const (
	// SeverityRequiresBuyerInput marks an error that blocks completion until the buyer resolves it.
	SeverityRequiresBuyerInput MessageSeverity = "requires_buyer_input"
	// SeverityRecoverable marks an error the flow can proceed past.
	SeverityRecoverable MessageSeverity = "recoverable"
)

// Message is a structured diagnostic attached to a checkout session.
type Message struct {
	ID        string
	Type      MessageType
	Code      string
	Content   string
	Severity  MessageSeverity
	Path      string
	CreatedAt time.Time
}

// TotalType identifies the aggregation role of a total line.
type TotalType string

const (
	TotalTypeSubtotal TotalType = "subtotal"
	TotalTypeTax      TotalType = "tax"
	TotalTypeShipping TotalType = "shipping"
	TotalTypeDiscount TotalType = "discount"
	TotalTypeTotal    TotalType = "total"
)

// Total is one line of the ordered totals breakdown. Amounts are minor currency units;
// discount lines carry a negative amount.
type Total struct {
	Type     TotalType
	Amount   int64
	Currency string
	Label    string
}

// LineItem is a purchasable entry within a checkout session or order snapshot.
type LineItem struct {
	ID          string
	Name        string
	Description string
	Quantity    int
	UnitPrice   int64
	TotalPrice  int64
	Currency    string
}

// Buyer captures the purchaser identity collected during checkout.
type Buyer struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// Address represents the shipping destination collected during checkout.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// PaymentInstrument references a tokenised payment method attached to a session.
// Display fields are masked metadata only; no sensitive data is stored.
type PaymentInstrument struct {
	ID      string
	Handler string
	Type    string
	Brand   string
	Last4   string
}

// CheckoutSession is the mutable pre-purchase negotiation record.
//
// Status is always a pure function of the session content except for the two
// terminal statuses, which are sticky.
type CheckoutSession struct {
	ID                   string
	TenantID             string
	Currency             string
	LineItems            []LineItem
	Buyer                *Buyer
	ShippingAddress      *Address
	PaymentInstruments   []PaymentInstrument
	SelectedInstrumentID string
	Totals               []Total
	Messages             []Message
	Status               CheckoutStatus
	OrderID              string
	ContinueURL          string
	CancelURL            string
	ExpiresAt            time.Time
	Metadata             map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusConfirmed indicates the order was created from a completed checkout.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates fulfillment preparation has started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the seller.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the buyer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRefunded indicates the order total has been fully refunded. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCancelled indicates the order was cancelled before delivery. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ExpectationType classifies how an order is promised to be fulfilled.
type ExpectationType string

const (
	ExpectationTypeDelivery ExpectationType = "delivery"
	ExpectationTypePickup   ExpectationType = "pickup"
)

// Expectation is a promise about how/when an order will be fulfilled.
// Mutable fields may be patched after creation.
type Expectation struct {
	ID            string
	Type          ExpectationType
	Description   string
	EstimatedDate *time.Time
	TrackingURL   string
}

// FulfillmentEventType classifies append-only order progress facts.
type FulfillmentEventType string

const (
	FulfillmentEventShipped   FulfillmentEventType = "shipped"
	FulfillmentEventInTransit FulfillmentEventType = "in_transit"
	FulfillmentEventDelivered FulfillmentEventType = "delivered"
	FulfillmentEventCancelled FulfillmentEventType = "cancelled"
)

// FulfillmentEvent is an append-only, timestamped fact about order progress.
// Once added it is never removed or replaced.
type FulfillmentEvent struct {
	ID             string
	Type           FulfillmentEventType
	Description    string
	Timestamp      time.Time
	TrackingNumber string
	Carrier        string
}

// AdjustmentType classifies post-order financial corrections.
type AdjustmentType string

const (
	AdjustmentTypeRefund AdjustmentType = "refund"
	AdjustmentTypeCredit AdjustmentType = "credit"
)

// Adjustment is a post-order financial correction tracked against the order total.
type Adjustment struct {
	ID        string
	Type      AdjustmentType
	Amount    int64
	Reason    string
	CreatedAt time.Time
}

// CaptureSummary records how the completed checkout was paid for.
type CaptureSummary struct {
	Handler       string
	InstrumentID  string
	TransactionID string
	CapturedAt    *time.Time
}

// Order is the durable record produced from a completed checkout. Currency, line
// items, buyer, shipping address, and totals are snapshots taken at creation time,
// not live references to the checkout.
type Order struct {
	ID                string
	TenantID          string
	CheckoutID        string
	Currency          string
	LineItems         []LineItem
	Buyer             *Buyer
	ShippingAddress   *Address
	Totals            []Total
	Status            OrderStatus
	Permalink         string
	Expectations      []Expectation
	FulfillmentEvents []FulfillmentEvent
	Adjustments       []Adjustment
	Capture           CaptureSummary
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// GrandTotal returns the amount of the order's "total" line, or zero when absent.
func (o Order) GrandTotal() int64 {
	for _, total := range o.Totals {
		if total.Type == TotalTypeTotal {
			return total.Amount
		}
	}
	return 0
}

// WebhookEndpoint is a per-tenant event subscription.
type WebhookEndpoint struct {
	ID       string
	TenantID string
	URL      string
	Events   []string
	Active   bool
}
