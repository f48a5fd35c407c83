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

const maxCheckoutRequestBody = 64 * 1024

// CheckoutHandlers exposes the checkout session lifecycle over HTTP.
type CheckoutHandlers struct {
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{checkoutID}", h.get)
	r.Patch("/{checkoutID}", h.update)
	r.Post("/{checkoutID}/instruments", h.addInstrument)
	r.Post("/{checkoutID}/instruments/{instrumentID}/select", h.selectInstrument)
	r.Post("/{checkoutID}/complete", h.complete)
	r.Post("/{checkoutID}/cancel", h.cancel)
}

type createCheckoutRequest struct {
	Currency    string            `json:"currency"`
	LineItems   []lineItemPayload `json:"lineItems"`
	Buyer       *buyerPayload     `json:"buyer"`
	ContinueURL string            `json:"continueUrl"`
	CancelURL   string            `json:"cancelUrl"`
	Metadata    map[string]any    `json:"metadata"`
	ExpiresIn   string            `json:"expiresIn"`
}

type updateCheckoutRequest struct {
	LineItems       *[]lineItemPayload `json:"lineItems"`
	Buyer           *buyerPayload      `json:"buyer"`
	ShippingAddress *addressPayload    `json:"shippingAddress"`
	ContinueURL     *string            `json:"continueUrl"`
	CancelURL       *string            `json:"cancelUrl"`
	Metadata        map[string]any     `json:"metadata"`
}

type addInstrumentRequest struct {
	Token string `json:"token"`
}

type completeCheckoutRequest struct {
	TransactionID string `json:"transactionId"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type completionResponse struct {
	Checkout checkoutResponse `json:"checkout"`
	Order    orderResponse    `json:"order"`
}

func (h *CheckoutHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req createCheckoutRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateCheckoutCommand{
		TenantID:    requestctx.Tenant(ctx),
		Currency:    strings.TrimSpace(req.Currency),
		LineItems:   fromLineItemPayloads(req.LineItems),
		Buyer:       fromBuyerPayload(req.Buyer),
		ContinueURL: strings.TrimSpace(req.ContinueURL),
		CancelURL:   strings.TrimSpace(req.CancelURL),
		Metadata:    req.Metadata,
	}
	if raw := strings.TrimSpace(req.ExpiresIn); raw != "" {
		expiresIn, err := time.ParseDuration(raw)
		if err != nil || expiresIn <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiresIn must be a positive duration", http.StatusBadRequest))
			return
		}
		cmd.ExpiresIn = expiresIn
	}

	session, err := h.checkout.Create(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toCheckoutResponse(session))
}

func (h *CheckoutHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.CheckoutListFilter{
		TenantID: requestctx.Tenant(ctx),
		Status:   domain.CheckoutStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Page:     domain.PageRequest{Limit: params.Limit, Offset: params.Offset},
	}

	page, err := h.checkout.List(ctx, filter)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	items := make([]checkoutResponse, 0, len(page.Items))
	for _, session := range page.Items {
		items = append(items, toCheckoutResponse(session))
	}
	writeJSONResponse(w, http.StatusOK, pagination.NewEnvelope(items, page.TotalCount, params))
}

func (h *CheckoutHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	session, err := h.checkout.Get(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "checkoutID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCheckoutResponse(session))
}

func (h *CheckoutHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req updateCheckoutRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateCheckoutCommand{
		TenantID:        requestctx.Tenant(ctx),
		CheckoutID:      chi.URLParam(r, "checkoutID"),
		Buyer:           fromBuyerPayload(req.Buyer),
		ShippingAddress: fromAddressPayload(req.ShippingAddress),
		ContinueURL:     req.ContinueURL,
		CancelURL:       req.CancelURL,
		Metadata:        req.Metadata,
	}
	if req.LineItems != nil {
		items := fromLineItemPayloads(*req.LineItems)
		cmd.LineItems = &items
	}

	session, err := h.checkout.Update(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCheckoutResponse(session))
}

func (h *CheckoutHandlers) addInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req addInstrumentRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.checkout.AddPaymentInstrument(ctx, services.AddInstrumentCommand{
		TenantID:   requestctx.Tenant(ctx),
		CheckoutID: chi.URLParam(r, "checkoutID"),
		Token:      strings.TrimSpace(req.Token),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCheckoutResponse(session))
}

func (h *CheckoutHandlers) selectInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	session, err := h.checkout.SelectPaymentInstrument(ctx, services.SelectInstrumentCommand{
		TenantID:     requestctx.Tenant(ctx),
		CheckoutID:   chi.URLParam(r, "checkoutID"),
		InstrumentID: chi.URLParam(r, "instrumentID"),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCheckoutResponse(session))
}

func (h *CheckoutHandlers) complete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req completeCheckoutRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	completion, err := h.checkout.Complete(ctx, services.CompleteCheckoutCommand{
		TenantID:      requestctx.Tenant(ctx),
		CheckoutID:    chi.URLParam(r, "checkoutID"),
		TransactionID: strings.TrimSpace(req.TransactionID),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, completionResponse{
		Checkout: toCheckoutResponse(completion.Checkout),
		Order:    toOrderResponse(completion.Order),
	})
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req cancelRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	session, err := h.checkout.Cancel(ctx, services.CancelCheckoutCommand{
		TenantID:   requestctx.Tenant(ctx),
		CheckoutID: chi.URLParam(r, "checkoutID"),
		Reason:     strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toCheckoutResponse(session))
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInstrumentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("instrument_not_found", "payment instrument not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutCannotModify):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_locked", "checkout session can no longer be modified", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCannotComplete):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_ready", "checkout session is not ready to complete", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCannotCancel):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_cancelable", "checkout session can no longer be canceled", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInvalidState), errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout session has changed; refresh and retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service unavailable", http.StatusServiceUnavailable))
}
