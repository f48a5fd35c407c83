package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/payforge/api/internal/repositories"
)

const (
	defaultDeliveryTimeout = 10 * time.Second

	webhookWildcardEvent = "*"

	// SignatureHeader carries the delivery signature: a unix timestamp and
	// an HMAC-SHA256 of "<timestamp>.<body>" keyed with the signing secret.
	SignatureHeader = "Payforge-Signature"
)

// NotificationSink forwards domain events to an out-of-process delivery
// channel, such as a message broker feeding a delivery worker fleet.
type NotificationSink interface {
	PublishNotification(ctx context.Context, tenantID, eventName string, payload map[string]any) (string, error)
}

// webhookPayload is the JSON body delivered to subscribed endpoints.
type webhookPayload struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenantId"`
	EntityID   string         `json:"entityId"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

// WebhookDispatcherDeps bundles collaborators required to construct the dispatcher.
type WebhookDispatcherDeps struct {
	Endpoints       repositories.WebhookEndpointRepository
	Sink            NotificationSink
	HTTPClient      *http.Client
	DeliveryTimeout time.Duration
	SigningSecret   string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// webhookDispatcher fans events out to registered endpoints. Delivery is best
// effort: failures are logged, never retried, and never surfaced to the
// mutation that produced the event.
type webhookDispatcher struct {
	endpoints repositories.WebhookEndpointRepository
	sink      NotificationSink
	client    *http.Client
	timeout   time.Duration
	secret    []byte
	logger    func(context.Context, string, map[string]any)
}

// NewWebhookDispatcher wires dependencies into an EventPublisher implementation.
func NewWebhookDispatcher(deps WebhookDispatcherDeps) (EventPublisher, error) {
	if deps.Endpoints == nil {
		return nil, errors.New("webhook dispatcher: endpoint repository is required")
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDeliveryTimeout}
	}

	timeout := deps.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	var secret []byte
	if deps.SigningSecret != "" {
		secret = []byte(deps.SigningSecret)
	}

	return &webhookDispatcher{
		endpoints: deps.Endpoints,
		sink:      deps.Sink,
		client:    client,
		timeout:   timeout,
		secret:    secret,
		logger:    logger,
	}, nil
}

// Publish looks up matching subscriptions synchronously and hands delivery to
// a background goroutine detached from the caller's context.
func (d *webhookDispatcher) Publish(ctx context.Context, event DomainEvent) {
	endpoints, err := d.endpoints.ListByTenant(ctx, event.TenantID)
	if err != nil {
		d.logger(ctx, "webhook.lookup.failed", map[string]any{
			"tenant": event.TenantID,
			"type":   event.Type,
			"error":  err.Error(),
		})
		return
	}

	var targets []WebhookEndpoint
	for _, endpoint := range endpoints {
		if endpoint.Active && subscribedTo(endpoint, event.Type) {
			targets = append(targets, endpoint)
		}
	}

	if len(targets) == 0 && d.sink == nil {
		return
	}

	go d.deliver(event, targets)
}

func (d *webhookDispatcher) deliver(event DomainEvent, targets []WebhookEndpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if d.sink != nil {
		if _, err := d.sink.PublishNotification(ctx, event.TenantID, event.Type, event.Payload); err != nil {
			d.logger(ctx, "webhook.sink.failed", map[string]any{
				"tenant": event.TenantID,
				"type":   event.Type,
				"error":  err.Error(),
			})
		}
	}

	if len(targets) == 0 {
		return
	}

	body, err := json.Marshal(webhookPayload{
		ID:         event.ID,
		Type:       event.Type,
		TenantID:   event.TenantID,
		EntityID:   event.EntityID,
		OccurredAt: event.OccurredAt,
		Data:       event.Payload,
	})
	if err != nil {
		d.logger(ctx, "webhook.encode.failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
		return
	}

	for _, target := range targets {
		if err := d.post(ctx, target.URL, body); err != nil {
			d.logger(ctx, "webhook.delivery.failed", map[string]any{
				"endpoint": target.ID,
				"type":     event.Type,
				"error":    err.Error(),
			})
			continue
		}
		d.logger(ctx, "webhook.delivered", map[string]any{
			"endpoint": target.ID,
			"type":     event.Type,
		})
	}
}

func (d *webhookDispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(d.secret) > 0 {
		req.Header.Set(SignatureHeader, d.signature(body, time.Now()))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint responded with status %d", resp.StatusCode)
	}
	return nil
}

func (d *webhookDispatcher) signature(body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func subscribedTo(endpoint WebhookEndpoint, eventType string) bool {
	return slices.Contains(endpoint.Events, webhookWildcardEvent) || slices.Contains(endpoint.Events, eventType)
}
