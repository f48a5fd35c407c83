package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/payforge/api/internal/domain"
)

func TestDispatcherDeliversToSubscribedEndpoints(t *testing.T) {
	received := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	repo := &memoryEndpointRepo{endpoints: []domain.WebhookEndpoint{
		{ID: "whep_1", TenantID: "tn_1", URL: server.URL, Events: []string{"order.created"}, Active: true},
	}}
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{Endpoints: repo})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	dispatcher.Publish(context.Background(), DomainEvent{
		ID:         "de_1",
		TenantID:   "tn_1",
		Type:       "order.created",
		EntityID:   "ord_1",
		OccurredAt: occurredAt,
		Payload:    map[string]any{"checkoutId": "chk_1"},
	})

	select {
	case payload := <-received:
		if payload.ID != "de_1" || payload.Type != "order.created" || payload.EntityID != "ord_1" {
			t.Fatalf("unexpected payload %+v", payload)
		}
		if payload.Data["checkoutId"] != "chk_1" {
			t.Fatalf("payload data = %v", payload.Data)
		}
		if !payload.OccurredAt.Equal(occurredAt) {
			t.Fatalf("occurredAt = %v", payload.OccurredAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcherSignsDeliveries(t *testing.T) {
	type capture struct {
		signature string
		body      []byte
	}
	received := make(chan capture, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read request body: %v", err)
		}
		received <- capture{signature: r.Header.Get(SignatureHeader), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	repo := &memoryEndpointRepo{endpoints: []domain.WebhookEndpoint{
		{ID: "whep_1", TenantID: "tn_1", URL: server.URL, Events: []string{"*"}, Active: true},
	}}
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{
		Endpoints:     repo,
		SigningSecret: "whsec_test",
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Publish(context.Background(), DomainEvent{
		ID:       "de_1",
		TenantID: "tn_1",
		Type:     "order.created",
		EntityID: "ord_1",
	})

	select {
	case got := <-received:
		ts, v1, ok := strings.Cut(got.signature, ",")
		if !ok || !strings.HasPrefix(ts, "t=") || !strings.HasPrefix(v1, "v1=") {
			t.Fatalf("malformed signature header %q", got.signature)
		}
		mac := hmac.New(sha256.New, []byte("whsec_test"))
		mac.Write([]byte(strings.TrimPrefix(ts, "t=")))
		mac.Write([]byte("."))
		mac.Write(got.body)
		want := hex.EncodeToString(mac.Sum(nil))
		if strings.TrimPrefix(v1, "v1=") != want {
			t.Fatalf("signature = %q, want v1=%s", got.signature, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcherOmitsSignatureWithoutSecret(t *testing.T) {
	headers := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	repo := &memoryEndpointRepo{endpoints: []domain.WebhookEndpoint{
		{ID: "whep_1", TenantID: "tn_1", URL: server.URL, Events: []string{"*"}, Active: true},
	}}
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{Endpoints: repo})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Publish(context.Background(), DomainEvent{ID: "de_1", TenantID: "tn_1", Type: "order.created"})

	select {
	case header := <-headers:
		if header != "" {
			t.Fatalf("unexpected signature header %q", header)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestDispatcherSkipsInactiveAndUnsubscribed(t *testing.T) {
	hits := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &memoryEndpointRepo{endpoints: []domain.WebhookEndpoint{
		{ID: "whep_inactive", TenantID: "tn_1", URL: server.URL + "/inactive", Events: []string{"order.created"}, Active: false},
		{ID: "whep_other", TenantID: "tn_1", URL: server.URL + "/other", Events: []string{"checkout.completed"}, Active: true},
		{ID: "whep_wildcard", TenantID: "tn_1", URL: server.URL + "/wildcard", Events: []string{"*"}, Active: true},
		{ID: "whep_foreign", TenantID: "tn_2", URL: server.URL + "/foreign", Events: []string{"order.created"}, Active: true},
	}}
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{Endpoints: repo})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Publish(context.Background(), DomainEvent{
		ID:       "de_1",
		TenantID: "tn_1",
		Type:     "order.created",
		EntityID: "ord_1",
	})

	select {
	case path := <-hits:
		if path != "/wildcard" {
			t.Fatalf("unexpected delivery to %s", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wildcard endpoint never hit")
	}

	// Give any stray deliveries a moment to surface.
	select {
	case path := <-hits:
		t.Fatalf("unexpected extra delivery to %s", path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcherSurvivesFailedDelivery(t *testing.T) {
	hits := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.URL.Path
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &memoryEndpointRepo{endpoints: []domain.WebhookEndpoint{
		{ID: "whep_broken", TenantID: "tn_1", URL: server.URL + "/broken", Events: []string{"*"}, Active: true},
		{ID: "whep_ok", TenantID: "tn_1", URL: server.URL + "/ok", Events: []string{"*"}, Active: true},
	}}

	failures := make(chan string, 2)
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{
		Endpoints: repo,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "webhook.delivery.failed" {
				failures <- fields["endpoint"].(string)
			}
		},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Publish(context.Background(), DomainEvent{
		ID:       "de_1",
		TenantID: "tn_1",
		Type:     "order.created",
		EntityID: "ord_1",
	})

	delivered := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case path := <-hits:
			delivered[path] = true
		case <-time.After(2 * time.Second):
			t.Fatal("deliveries never completed")
		}
	}
	if !delivered["/broken"] || !delivered["/ok"] {
		t.Fatalf("deliveries = %v", delivered)
	}

	select {
	case endpoint := <-failures:
		if endpoint != "whep_broken" {
			t.Fatalf("failure logged for %s", endpoint)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure was never logged")
	}
}

type recordingSink struct {
	notifications chan string
}

func (r *recordingSink) PublishNotification(_ context.Context, tenantID, eventName string, _ map[string]any) (string, error) {
	r.notifications <- tenantID + ":" + eventName
	return "nt_1", nil
}

func TestDispatcherForwardsToSink(t *testing.T) {
	sink := &recordingSink{notifications: make(chan string, 1)}
	dispatcher, err := NewWebhookDispatcher(WebhookDispatcherDeps{
		Endpoints: &memoryEndpointRepo{},
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	dispatcher.Publish(context.Background(), DomainEvent{
		ID:       "de_1",
		TenantID: "tn_1",
		Type:     "checkout.completed",
		EntityID: "chk_1",
	})

	select {
	case got := <-sink.notifications:
		if got != "tn_1:checkout.completed" {
			t.Fatalf("sink received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the event")
	}
}
