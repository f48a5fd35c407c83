package handlers

import (
	"strings"

	"github.com/payforge/api/internal/services"
)

type lineItemPayload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	TotalPrice  int64  `json:"totalPrice,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

type buyerPayload struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type addressPayload struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type instrumentPayload struct {
	ID      string `json:"id"`
	Handler string `json:"handler"`
	Type    string `json:"type,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Last4   string `json:"last4,omitempty"`
}

type totalPayload struct {
	Type     string `json:"type"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Label    string `json:"label,omitempty"`
}

type messagePayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Content   string `json:"content"`
	Severity  string `json:"severity,omitempty"`
	Path      string `json:"path,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type checkoutResponse struct {
	ID                   string              `json:"id"`
	Currency             string              `json:"currency"`
	Status               string              `json:"status"`
	LineItems            []lineItemPayload   `json:"lineItems"`
	Buyer                *buyerPayload       `json:"buyer,omitempty"`
	ShippingAddress      *addressPayload     `json:"shippingAddress,omitempty"`
	PaymentInstruments   []instrumentPayload `json:"paymentInstruments"`
	SelectedInstrumentID string              `json:"selectedInstrumentId,omitempty"`
	Totals               []totalPayload      `json:"totals"`
	Messages             []messagePayload    `json:"messages"`
	OrderID              string              `json:"orderId,omitempty"`
	ContinueURL          string              `json:"continueUrl,omitempty"`
	CancelURL            string              `json:"cancelUrl,omitempty"`
	ExpiresAt            string              `json:"expiresAt,omitempty"`
	Metadata             map[string]any      `json:"metadata,omitempty"`
	CreatedAt            string              `json:"createdAt,omitempty"`
	UpdatedAt            string              `json:"updatedAt,omitempty"`
}

type expectationPayload struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Description   string `json:"description,omitempty"`
	EstimatedDate string `json:"estimatedDate,omitempty"`
	TrackingURL   string `json:"trackingUrl,omitempty"`
}

type fulfillmentEventPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	Timestamp      string `json:"timestamp"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

type adjustmentPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type capturePayload struct {
	Handler       string `json:"handler,omitempty"`
	InstrumentID  string `json:"instrumentId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	CapturedAt    string `json:"capturedAt,omitempty"`
}

type orderResponse struct {
	ID                string                    `json:"id"`
	CheckoutID        string                    `json:"checkoutId"`
	Currency          string                    `json:"currency"`
	Status            string                    `json:"status"`
	LineItems         []lineItemPayload         `json:"lineItems"`
	Buyer             *buyerPayload             `json:"buyer,omitempty"`
	ShippingAddress   *addressPayload           `json:"shippingAddress,omitempty"`
	Totals            []totalPayload            `json:"totals"`
	Permalink         string                    `json:"permalink,omitempty"`
	Expectations      []expectationPayload      `json:"expectations"`
	FulfillmentEvents []fulfillmentEventPayload `json:"fulfillmentEvents"`
	Adjustments       []adjustmentPayload       `json:"adjustments"`
	Capture           capturePayload            `json:"capture"`
	CreatedAt         string                    `json:"createdAt,omitempty"`
	UpdatedAt         string                    `json:"updatedAt,omitempty"`
}

func toCheckoutResponse(session services.CheckoutSession) checkoutResponse {
	resp := checkoutResponse{
		ID:                   session.ID,
		Currency:             session.Currency,
		Status:               string(session.Status),
		LineItems:            toLineItemPayloads(session.LineItems),
		Buyer:                toBuyerPayload(session.Buyer),
		ShippingAddress:      toAddressPayload(session.ShippingAddress),
		PaymentInstruments:   []instrumentPayload{},
		SelectedInstrumentID: session.SelectedInstrumentID,
		Totals:               toTotalPayloads(session.Totals),
		Messages:             []messagePayload{},
		OrderID:              session.OrderID,
		ContinueURL:          session.ContinueURL,
		CancelURL:            session.CancelURL,
		ExpiresAt:            formatTime(session.ExpiresAt),
		Metadata:             session.Metadata,
		CreatedAt:            formatTime(session.CreatedAt),
		UpdatedAt:            formatTime(session.UpdatedAt),
	}
	for _, instrument := range session.PaymentInstruments {
		resp.PaymentInstruments = append(resp.PaymentInstruments, instrumentPayload{
			ID:      instrument.ID,
			Handler: instrument.Handler,
			Type:    instrument.Type,
			Brand:   instrument.Brand,
			Last4:   instrument.Last4,
		})
	}
	for _, message := range session.Messages {
		resp.Messages = append(resp.Messages, messagePayload{
			ID:        message.ID,
			Type:      string(message.Type),
			Code:      message.Code,
			Content:   message.Content,
			Severity:  string(message.Severity),
			Path:      message.Path,
			CreatedAt: formatTime(message.CreatedAt),
		})
	}
	return resp
}

func toOrderResponse(order services.Order) orderResponse {
	resp := orderResponse{
		ID:                order.ID,
		CheckoutID:        order.CheckoutID,
		Currency:          order.Currency,
		Status:            string(order.Status),
		LineItems:         toLineItemPayloads(order.LineItems),
		Buyer:             toBuyerPayload(order.Buyer),
		ShippingAddress:   toAddressPayload(order.ShippingAddress),
		Totals:            toTotalPayloads(order.Totals),
		Permalink:         order.Permalink,
		Expectations:      []expectationPayload{},
		FulfillmentEvents: []fulfillmentEventPayload{},
		Adjustments:       []adjustmentPayload{},
		Capture: capturePayload{
			Handler:       order.Capture.Handler,
			InstrumentID:  order.Capture.InstrumentID,
			TransactionID: order.Capture.TransactionID,
			CapturedAt:    formatTimePtr(order.Capture.CapturedAt),
		},
		CreatedAt: formatTime(order.CreatedAt),
		UpdatedAt: formatTime(order.UpdatedAt),
	}
	for _, expectation := range order.Expectations {
		resp.Expectations = append(resp.Expectations, toExpectationPayload(expectation))
	}
	for _, event := range order.FulfillmentEvents {
		resp.FulfillmentEvents = append(resp.FulfillmentEvents, toFulfillmentEventPayload(event))
	}
	for _, adjustment := range order.Adjustments {
		resp.Adjustments = append(resp.Adjustments, toAdjustmentPayload(adjustment))
	}
	return resp
}

func toExpectationPayload(expectation services.Expectation) expectationPayload {
	return expectationPayload{
		ID:            expectation.ID,
		Type:          string(expectation.Type),
		Description:   expectation.Description,
		EstimatedDate: formatTimePtr(expectation.EstimatedDate),
		TrackingURL:   expectation.TrackingURL,
	}
}

func toFulfillmentEventPayload(event services.FulfillmentEvent) fulfillmentEventPayload {
	return fulfillmentEventPayload{
		ID:             event.ID,
		Type:           string(event.Type),
		Description:    event.Description,
		Timestamp:      formatTime(event.Timestamp),
		TrackingNumber: event.TrackingNumber,
		Carrier:        event.Carrier,
	}
}

func toAdjustmentPayload(adjustment services.Adjustment) adjustmentPayload {
	return adjustmentPayload{
		ID:        adjustment.ID,
		Type:      string(adjustment.Type),
		Amount:    adjustment.Amount,
		Reason:    adjustment.Reason,
		CreatedAt: formatTime(adjustment.CreatedAt),
	}
}

func toLineItemPayloads(items []services.LineItem) []lineItemPayload {
	payloads := make([]lineItemPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, lineItemPayload{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
			Currency:    item.Currency,
		})
	}
	return payloads
}

func toTotalPayloads(totals []services.Total) []totalPayload {
	payloads := make([]totalPayload, 0, len(totals))
	for _, total := range totals {
		payloads = append(payloads, totalPayload{
			Type:     string(total.Type),
			Amount:   total.Amount,
			Currency: total.Currency,
			Label:    total.Label,
		})
	}
	return payloads
}

func toBuyerPayload(buyer *services.Buyer) *buyerPayload {
	if buyer == nil {
		return nil
	}
	return &buyerPayload{
		FirstName: buyer.FirstName,
		LastName:  buyer.LastName,
		Email:     buyer.Email,
		Phone:     buyer.Phone,
	}
}

func toAddressPayload(address *services.Address) *addressPayload {
	if address == nil {
		return nil
	}
	return &addressPayload{
		Name:       address.Name,
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    address.Country,
	}
}

func fromLineItemPayloads(payloads []lineItemPayload) []services.LineItem {
	items := make([]services.LineItem, 0, len(payloads))
	for _, payload := range payloads {
		items = append(items, services.LineItem{
			ID:          strings.TrimSpace(payload.ID),
			Name:        strings.TrimSpace(payload.Name),
			Description: strings.TrimSpace(payload.Description),
			Quantity:    payload.Quantity,
			UnitPrice:   payload.UnitPrice,
			Currency:    strings.TrimSpace(payload.Currency),
		})
	}
	return items
}

func fromBuyerPayload(payload *buyerPayload) *services.Buyer {
	if payload == nil {
		return nil
	}
	return &services.Buyer{
		FirstName: strings.TrimSpace(payload.FirstName),
		LastName:  strings.TrimSpace(payload.LastName),
		Email:     strings.TrimSpace(payload.Email),
		Phone:     strings.TrimSpace(payload.Phone),
	}
}

func fromAddressPayload(payload *addressPayload) *services.Address {
	if payload == nil {
		return nil
	}
	return &services.Address{
		Name:       strings.TrimSpace(payload.Name),
		Line1:      strings.TrimSpace(payload.Line1),
		Line2:      strings.TrimSpace(payload.Line2),
		City:       strings.TrimSpace(payload.City),
		State:      strings.TrimSpace(payload.State),
		PostalCode: strings.TrimSpace(payload.PostalCode),
		Country:    strings.TrimSpace(payload.Country),
	}
}
