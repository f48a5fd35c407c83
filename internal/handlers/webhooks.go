package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/payforge/api/internal/platform/httpx"
	"github.com/payforge/api/internal/platform/requestctx"
	"github.com/payforge/api/internal/services"
)

const maxWebhookRequestBody = 16 * 1024

// WebhookHandlers manages per-tenant webhook endpoint subscriptions.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs webhook endpoint handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes registers webhook endpoint management routes.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.register)
	r.Get("/", h.listActive)
	r.Get("/{endpointID}", h.get)
	r.Patch("/{endpointID}", h.update)
	r.Delete("/{endpointID}", h.deactivate)
}

type registerEndpointRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type updateEndpointRequest struct {
	URL    *string   `json:"url"`
	Events *[]string `json:"events"`
	Active *bool     `json:"active"`
}

type endpointResponse struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

func toEndpointResponse(endpoint services.WebhookEndpoint) endpointResponse {
	events := endpoint.Events
	if events == nil {
		events = []string{}
	}
	return endpointResponse{
		ID:     endpoint.ID,
		URL:    endpoint.URL,
		Events: events,
		Active: endpoint.Active,
	}
}

func (h *WebhookHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req registerEndpointRequest
	if err := decodeJSONBody(r, maxWebhookRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	endpoint, err := h.webhooks.Register(ctx, services.RegisterEndpointCommand{
		TenantID: requestctx.Tenant(ctx),
		URL:      strings.TrimSpace(req.URL),
		Events:   req.Events,
	})
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toEndpointResponse(endpoint))
}

func (h *WebhookHandlers) listActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	endpoints, err := h.webhooks.ListActive(ctx, requestctx.Tenant(ctx))
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}

	payload := make([]endpointResponse, 0, len(endpoints))
	for _, endpoint := range endpoints {
		payload = append(payload, toEndpointResponse(endpoint))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"endpoints": payload})
}

func (h *WebhookHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	endpoint, err := h.webhooks.Get(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "endpointID"))
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toEndpointResponse(endpoint))
}

func (h *WebhookHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req updateEndpointRequest
	if err := decodeJSONBody(r, maxWebhookRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	endpoint, err := h.webhooks.Update(ctx, services.UpdateEndpointCommand{
		TenantID:   requestctx.Tenant(ctx),
		EndpointID: chi.URLParam(r, "endpointID"),
		URL:        req.URL,
		Events:     req.Events,
		Active:     req.Active,
	})
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toEndpointResponse(endpoint))
}

func (h *WebhookHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	endpoint, err := h.webhooks.Deactivate(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "endpointID"))
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toEndpointResponse(endpoint))
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWebhookInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWebhookEndpointNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("endpoint_not_found", "webhook endpoint not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWebhookConflict):
		httpx.WriteError(ctx, w, httpx.NewError("endpoint_conflict", "webhook endpoint has changed; refresh and retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook endpoint request", http.StatusInternalServerError))
	}
}
