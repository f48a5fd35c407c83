package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/platform/httpx"
	"github.com/payforge/api/internal/platform/pagination"
	"github.com/payforge/api/internal/platform/requestctx"
	"github.com/payforge/api/internal/services"
)

const maxOrderRequestBody = 32 * 1024

// ReceiptLinker issues short-lived download URLs for archived order receipts.
type ReceiptLinker interface {
	ReceiptDownloadURL(ctx context.Context, tenantID, orderID string) (string, time.Time, error)
}

// OrderHandlers exposes order reads, status transitions, fulfillment tracking,
// and the adjustment ledger over HTTP.
type OrderHandlers struct {
	orders      services.OrderService
	fulfillment services.FulfillmentService
	adjustments services.AdjustmentService
	receipts    ReceiptLinker
}

// OrderHandlerOption customises order handler construction.
type OrderHandlerOption func(*OrderHandlers)

// WithReceiptLinker enables the receipt download endpoint.
func WithReceiptLinker(linker ReceiptLinker) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.receipts = linker
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, fulfillment services.FulfillmentService, adjustments services.AdjustmentService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		orders:      orders,
		fulfillment: fulfillment,
		adjustments: adjustments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Get("/{orderID}", h.get)
	r.Get("/{orderID}/receipt", h.receiptURL)
	r.Get("/by-checkout/{checkoutID}", h.getByCheckout)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Post("/{orderID}/cancel", h.cancel)

	r.Post("/{orderID}/expectations", h.addExpectation)
	r.Patch("/{orderID}/expectations/{expectationID}", h.updateExpectation)
	r.Post("/{orderID}/events", h.appendEvent)
	r.Get("/{orderID}/events", h.listEvents)

	r.Post("/{orderID}/adjustments", h.appendAdjustment)
	r.Get("/{orderID}/adjustments", h.listAdjustments)
}

type orderTransitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type addExpectationRequest struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	EstimatedDate string `json:"estimatedDate"`
	TrackingURL   string `json:"trackingUrl"`
}

type updateExpectationRequest struct {
	Description   *string `json:"description"`
	EstimatedDate *string `json:"estimatedDate"`
	TrackingURL   *string `json:"trackingUrl"`
}

type appendEventRequest struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

type appendAdjustmentRequest struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type receiptLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *OrderHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.List(ctx, services.OrderListFilter{
		TenantID: requestctx.Tenant(ctx),
		Status:   domain.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Page:     domain.PageRequest{Limit: params.Limit, Offset: params.Offset},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderResponse, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, toOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, pagination.NewEnvelope(items, page.TotalCount, params))
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	order, err := h.orders.Get(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) receiptURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	if h.receipts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipts_not_configured", "receipt downloads are not configured", http.StatusNotFound))
		return
	}

	tenantID := requestctx.Tenant(ctx)
	order, err := h.orders.Get(ctx, tenantID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	url, expiresAt, err := h.receipts.ReceiptDownloadURL(ctx, tenantID, order.ID)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("receipt_error", "failed to sign receipt download url", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, receiptLinkResponse{
		URL:       url,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *OrderHandlers) getByCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	order, err := h.orders.GetByCheckoutID(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "checkoutID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req orderTransitionRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderTransitionCommand{
		TenantID:     requestctx.Tenant(ctx),
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(strings.TrimSpace(req.Status)),
		Reason:       strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req cancelRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		TenantID: requestctx.Tenant(ctx),
		OrderID:  chi.URLParam(r, "orderID"),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) addExpectation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req addExpectationRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	estimated, err := parseTimePtr(req.EstimatedDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDate must be RFC 3339", http.StatusBadRequest))
		return
	}

	order, err := h.fulfillment.AddExpectation(ctx, services.AddExpectationCommand{
		TenantID:      requestctx.Tenant(ctx),
		OrderID:       chi.URLParam(r, "orderID"),
		Type:          domain.ExpectationType(strings.TrimSpace(req.Type)),
		Description:   strings.TrimSpace(req.Description),
		EstimatedDate: estimated,
		TrackingURL:   strings.TrimSpace(req.TrackingURL),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandlers) updateExpectation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req updateExpectationRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateExpectationCommand{
		TenantID:      requestctx.Tenant(ctx),
		OrderID:       chi.URLParam(r, "orderID"),
		ExpectationID: chi.URLParam(r, "expectationID"),
		Description:   req.Description,
		TrackingURL:   req.TrackingURL,
	}
	if req.EstimatedDate != nil {
		estimated, err := parseTimePtr(*req.EstimatedDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimatedDate must be RFC 3339", http.StatusBadRequest))
			return
		}
		cmd.EstimatedDate = estimated
	}

	order, err := h.fulfillment.UpdateExpectation(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandlers) appendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req appendEventRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.fulfillment.AppendEvent(ctx, services.AppendFulfillmentEventCommand{
		TenantID:       requestctx.Tenant(ctx),
		OrderID:        chi.URLParam(r, "orderID"),
		Type:           domain.FulfillmentEventType(strings.TrimSpace(req.Type)),
		Description:    strings.TrimSpace(req.Description),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		Carrier:        strings.TrimSpace(req.Carrier),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandlers) listEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	events, err := h.fulfillment.ListEvents(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := make([]fulfillmentEventPayload, 0, len(events))
	for _, event := range events {
		payload = append(payload, toFulfillmentEventPayload(event))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"events": payload})
}

func (h *OrderHandlers) appendAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.adjustments == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req appendAdjustmentRequest
	if err := decodeJSONBody(r, maxOrderRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.adjustments.Append(ctx, services.AppendAdjustmentCommand{
		TenantID: requestctx.Tenant(ctx),
		OrderID:  chi.URLParam(r, "orderID"),
		Type:     domain.AdjustmentType(strings.TrimSpace(req.Type)),
		Amount:   req.Amount,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandlers) listAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.adjustments == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	adjustments, err := h.adjustments.List(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := make([]adjustmentPayload, 0, len(adjustments))
	for _, adjustment := range adjustments {
		payload = append(payload, toAdjustmentPayload(adjustment))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"adjustments": payload})
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrFulfillmentInvalidInput),
		errors.Is(err, services.ErrAdjustmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrExpectationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("expectation_not_found", "expectation not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRefundExceedsTotal):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_total", "refund amount exceeds the remaining order total", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidState), errors.Is(err, services.ErrOrderCannotCancel), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
