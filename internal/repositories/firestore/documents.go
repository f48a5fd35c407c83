package firestore

import (
	"strings"
	"time"

	"github.com/payforge/api/internal/domain"
)

type lineItemDocument struct {
	ID          string `firestore:"id"`
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	TotalPrice  int64  `firestore:"totalPrice"`
	Currency    string `firestore:"currency"`
}

type buyerDocument struct {
	FirstName string `firestore:"firstName,omitempty"`
	LastName  string `firestore:"lastName,omitempty"`
	Email     string `firestore:"email,omitempty"`
	Phone     string `firestore:"phone,omitempty"`
}

type addressDocument struct {
	Name       string `firestore:"name,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode,omitempty"`
	Country    string `firestore:"country"`
}

type instrumentDocument struct {
	ID      string `firestore:"id"`
	Handler string `firestore:"handler"`
	Type    string `firestore:"type,omitempty"`
	Brand   string `firestore:"brand,omitempty"`
	Last4   string `firestore:"last4,omitempty"`
}

type totalDocument struct {
	Type     string `firestore:"type"`
	Amount   int64  `firestore:"amount"`
	Currency string `firestore:"currency"`
	Label    string `firestore:"label,omitempty"`
}

type messageDocument struct {
	ID        string    `firestore:"id"`
	Type      string    `firestore:"type"`
	Code      string    `firestore:"code,omitempty"`
	Content   string    `firestore:"content"`
	Severity  string    `firestore:"severity,omitempty"`
	Path      string    `firestore:"path,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type checkoutDocument struct {
	TenantID             string               `firestore:"tenantId"`
	Currency             string               `firestore:"currency"`
	LineItems            []lineItemDocument   `firestore:"lineItems,omitempty"`
	Buyer                *buyerDocument       `firestore:"buyer,omitempty"`
	ShippingAddress      *addressDocument     `firestore:"shippingAddress,omitempty"`
	PaymentInstruments   []instrumentDocument `firestore:"paymentInstruments,omitempty"`
	SelectedInstrumentID string               `firestore:"selectedInstrumentId,omitempty"`
	Totals               []totalDocument      `firestore:"totals,omitempty"`
	Messages             []messageDocument    `firestore:"messages,omitempty"`
	Status               string               `firestore:"status"`
	OrderID              string               `firestore:"orderId,omitempty"`
	ContinueURL          string               `firestore:"continueUrl,omitempty"`
	CancelURL            string               `firestore:"cancelUrl,omitempty"`
	ExpiresAt            time.Time            `firestore:"expiresAt"`
	Metadata             map[string]any       `firestore:"metadata,omitempty"`
	CreatedAt            time.Time            `firestore:"createdAt"`
	UpdatedAt            time.Time            `firestore:"updatedAt"`
}

type expectationDocument struct {
	ID            string     `firestore:"id"`
	Type          string     `firestore:"type"`
	Description   string     `firestore:"description,omitempty"`
	EstimatedDate *time.Time `firestore:"estimatedDate,omitempty"`
	TrackingURL   string     `firestore:"trackingUrl,omitempty"`
}

type fulfillmentEventDocument struct {
	ID             string    `firestore:"id"`
	Type           string    `firestore:"type"`
	Description    string    `firestore:"description,omitempty"`
	Timestamp      time.Time `firestore:"timestamp"`
	TrackingNumber string    `firestore:"trackingNumber,omitempty"`
	Carrier        string    `firestore:"carrier,omitempty"`
}

type adjustmentDocument struct {
	ID        string    `firestore:"id"`
	Type      string    `firestore:"type"`
	Amount    int64     `firestore:"amount"`
	Reason    string    `firestore:"reason,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type captureDocument struct {
	Handler       string     `firestore:"handler,omitempty"`
	InstrumentID  string     `firestore:"instrumentId,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	CapturedAt    *time.Time `firestore:"capturedAt,omitempty"`
}

type orderDocument struct {
	TenantID          string                     `firestore:"tenantId"`
	CheckoutID        string                     `firestore:"checkoutId"`
	Currency          string                     `firestore:"currency"`
	LineItems         []lineItemDocument         `firestore:"lineItems,omitempty"`
	Buyer             *buyerDocument             `firestore:"buyer,omitempty"`
	ShippingAddress   *addressDocument           `firestore:"shippingAddress,omitempty"`
	Totals            []totalDocument            `firestore:"totals,omitempty"`
	Status            string                     `firestore:"status"`
	Permalink         string                     `firestore:"permalink,omitempty"`
	Expectations      []expectationDocument      `firestore:"expectations,omitempty"`
	FulfillmentEvents []fulfillmentEventDocument `firestore:"fulfillmentEvents,omitempty"`
	Adjustments       []adjustmentDocument       `firestore:"adjustments,omitempty"`
	Capture           captureDocument            `firestore:"capture"`
	CreatedAt         time.Time                  `firestore:"createdAt"`
	UpdatedAt         time.Time                  `firestore:"updatedAt"`
}

type webhookEndpointDocument struct {
	TenantID  string    `firestore:"tenantId"`
	URL       string    `firestore:"url"`
	Events    []string  `firestore:"events"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeCheckout(session domain.CheckoutSession) checkoutDocument {
	doc := checkoutDocument{
		TenantID:             strings.TrimSpace(session.TenantID),
		Currency:             strings.ToUpper(strings.TrimSpace(session.Currency)),
		LineItems:            encodeLineItems(session.LineItems),
		Buyer:                encodeBuyer(session.Buyer),
		ShippingAddress:      encodeAddress(session.ShippingAddress),
		SelectedInstrumentID: strings.TrimSpace(session.SelectedInstrumentID),
		Totals:               encodeTotals(session.Totals),
		Status:               string(session.Status),
		OrderID:              strings.TrimSpace(session.OrderID),
		ContinueURL:          strings.TrimSpace(session.ContinueURL),
		CancelURL:            strings.TrimSpace(session.CancelURL),
		ExpiresAt:            session.ExpiresAt.UTC(),
		Metadata:             cloneAnyMap(session.Metadata),
		CreatedAt:            session.CreatedAt.UTC(),
		UpdatedAt:            session.UpdatedAt.UTC(),
	}
	for _, instrument := range session.PaymentInstruments {
		doc.PaymentInstruments = append(doc.PaymentInstruments, instrumentDocument{
			ID:      instrument.ID,
			Handler: instrument.Handler,
			Type:    instrument.Type,
			Brand:   instrument.Brand,
			Last4:   instrument.Last4,
		})
	}
	for _, message := range session.Messages {
		doc.Messages = append(doc.Messages, messageDocument{
			ID:        message.ID,
			Type:      string(message.Type),
			Code:      message.Code,
			Content:   message.Content,
			Severity:  string(message.Severity),
			Path:      message.Path,
			CreatedAt: message.CreatedAt.UTC(),
		})
	}
	return doc
}

func decodeCheckout(id string, doc checkoutDocument) domain.CheckoutSession {
	session := domain.CheckoutSession{
		ID:                   id,
		TenantID:             doc.TenantID,
		Currency:             doc.Currency,
		LineItems:            decodeLineItems(doc.LineItems),
		Buyer:                decodeBuyer(doc.Buyer),
		ShippingAddress:      decodeAddress(doc.ShippingAddress),
		SelectedInstrumentID: doc.SelectedInstrumentID,
		Totals:               decodeTotals(doc.Totals),
		Status:               domain.CheckoutStatus(doc.Status),
		OrderID:              doc.OrderID,
		ContinueURL:          doc.ContinueURL,
		CancelURL:            doc.CancelURL,
		ExpiresAt:            doc.ExpiresAt,
		Metadata:             cloneAnyMap(doc.Metadata),
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
	}
	for _, instrument := range doc.PaymentInstruments {
		session.PaymentInstruments = append(session.PaymentInstruments, domain.PaymentInstrument{
			ID:      instrument.ID,
			Handler: instrument.Handler,
			Type:    instrument.Type,
			Brand:   instrument.Brand,
			Last4:   instrument.Last4,
		})
	}
	for _, message := range doc.Messages {
		session.Messages = append(session.Messages, domain.Message{
			ID:        message.ID,
			Type:      domain.MessageType(message.Type),
			Code:      message.Code,
			Content:   message.Content,
			Severity:  domain.MessageSeverity(message.Severity),
			Path:      message.Path,
			CreatedAt: message.CreatedAt,
		})
	}
	return session
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		TenantID:        strings.TrimSpace(order.TenantID),
		CheckoutID:      strings.TrimSpace(order.CheckoutID),
		Currency:        strings.ToUpper(strings.TrimSpace(order.Currency)),
		LineItems:       encodeLineItems(order.LineItems),
		Buyer:           encodeBuyer(order.Buyer),
		ShippingAddress: encodeAddress(order.ShippingAddress),
		Totals:          encodeTotals(order.Totals),
		Status:          string(order.Status),
		Permalink:       strings.TrimSpace(order.Permalink),
		Capture: captureDocument{
			Handler:       order.Capture.Handler,
			InstrumentID:  order.Capture.InstrumentID,
			TransactionID: order.Capture.TransactionID,
			CapturedAt:    cloneTimePtr(order.Capture.CapturedAt),
		},
		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
	for _, expectation := range order.Expectations {
		doc.Expectations = append(doc.Expectations, expectationDocument{
			ID:            expectation.ID,
			Type:          string(expectation.Type),
			Description:   expectation.Description,
			EstimatedDate: cloneTimePtr(expectation.EstimatedDate),
			TrackingURL:   expectation.TrackingURL,
		})
	}
	for _, event := range order.FulfillmentEvents {
		doc.FulfillmentEvents = append(doc.FulfillmentEvents, fulfillmentEventDocument{
			ID:             event.ID,
			Type:           string(event.Type),
			Description:    event.Description,
			Timestamp:      event.Timestamp.UTC(),
			TrackingNumber: event.TrackingNumber,
			Carrier:        event.Carrier,
		})
	}
	for _, adjustment := range order.Adjustments {
		doc.Adjustments = append(doc.Adjustments, adjustmentDocument{
			ID:        adjustment.ID,
			Type:      string(adjustment.Type),
			Amount:    adjustment.Amount,
			Reason:    adjustment.Reason,
			CreatedAt: adjustment.CreatedAt.UTC(),
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:              id,
		TenantID:        doc.TenantID,
		CheckoutID:      doc.CheckoutID,
		Currency:        doc.Currency,
		LineItems:       decodeLineItems(doc.LineItems),
		Buyer:           decodeBuyer(doc.Buyer),
		ShippingAddress: decodeAddress(doc.ShippingAddress),
		Totals:          decodeTotals(doc.Totals),
		Status:          domain.OrderStatus(doc.Status),
		Permalink:       doc.Permalink,
		Capture: domain.CaptureSummary{
			Handler:       doc.Capture.Handler,
			InstrumentID:  doc.Capture.InstrumentID,
			TransactionID: doc.Capture.TransactionID,
			CapturedAt:    cloneTimePtr(doc.Capture.CapturedAt),
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, expectation := range doc.Expectations {
		order.Expectations = append(order.Expectations, domain.Expectation{
			ID:            expectation.ID,
			Type:          domain.ExpectationType(expectation.Type),
			Description:   expectation.Description,
			EstimatedDate: cloneTimePtr(expectation.EstimatedDate),
			TrackingURL:   expectation.TrackingURL,
		})
	}
	for _, event := range doc.FulfillmentEvents {
		order.FulfillmentEvents = append(order.FulfillmentEvents, domain.FulfillmentEvent{
			ID:             event.ID,
			Type:           domain.FulfillmentEventType(event.Type),
			Description:    event.Description,
			Timestamp:      event.Timestamp,
			TrackingNumber: event.TrackingNumber,
			Carrier:        event.Carrier,
		})
	}
	for _, adjustment := range doc.Adjustments {
		order.Adjustments = append(order.Adjustments, domain.Adjustment{
			ID:        adjustment.ID,
			Type:      domain.AdjustmentType(adjustment.Type),
			Amount:    adjustment.Amount,
			Reason:    adjustment.Reason,
			CreatedAt: adjustment.CreatedAt,
		})
	}
	return order
}

func encodeLineItems(items []domain.LineItem) []lineItemDocument {
	if len(items) == 0 {
		return nil
	}
	docs := make([]lineItemDocument, 0, len(items))
	for _, item := range items {
		docs = append(docs, lineItemDocument{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Currency:    item.Currency,
		})
	}
	return docs
}

func decodeLineItems(docs []lineItemDocument) []domain.LineItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]domain.LineItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.LineItem{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			Quantity:    doc.Quantity,
			UnitPrice:   doc.UnitPrice,
			TotalPrice:  doc.TotalPrice,
			Currency:    doc.Currency,
		})
	}
	return items
}

func encodeTotals(totals []domain.Total) []totalDocument {
	if len(totals) == 0 {
		return nil
	}
	docs := make([]totalDocument, 0, len(totals))
	for _, total := range totals {
		docs = append(docs, totalDocument{
			Type:     string(total.Type),
			Amount:   total.Amount,
			Currency: total.Currency,
			Label:    total.Label,
		})
	}
	return docs
}

func decodeTotals(docs []totalDocument) []domain.Total {
	if len(docs) == 0 {
		return nil
	}
	totals := make([]domain.Total, 0, len(docs))
	for _, doc := range docs {
		totals = append(totals, domain.Total{
			Type:     domain.TotalType(doc.Type),
			Amount:   doc.Amount,
			Currency: doc.Currency,
			Label:    doc.Label,
		})
	}
	return totals
}

func encodeBuyer(buyer *domain.Buyer) *buyerDocument {
	if buyer == nil {
		return nil
	}
	return &buyerDocument{
		FirstName: buyer.FirstName,
		LastName:  buyer.LastName,
		Email:     buyer.Email,
		Phone:     buyer.Phone,
	}
}

func decodeBuyer(doc *buyerDocument) *domain.Buyer {
	if doc == nil {
		return nil
	}
	return &domain.Buyer{
		FirstName: doc.FirstName,
		LastName:  doc.LastName,
		Email:     doc.Email,
		Phone:     doc.Phone,
	}
}

func encodeAddress(address *domain.Address) *addressDocument {
	if address == nil {
		return nil
	}
	return &addressDocument{
		Name:       address.Name,
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    address.Country,
	}
}

func decodeAddress(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		Name:       doc.Name,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    doc.Country,
	}
}

func cloneTimePtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	dup := value.UTC()
	return &dup
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
