package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/payforge/api/internal/platform/config"
	"github.com/payforge/api/internal/platform/idempotency"
	"github.com/payforge/api/internal/repositories/memory"
	"github.com/payforge/api/internal/services"
)

type staticResolver struct{}

func (staticResolver) Resolve(context.Context, string) (services.PaymentInstrument, error) {
	return services.PaymentInstrument{ID: "pm_1", Handler: "stripe", Type: "card"}, nil
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Port:               "8080",
			RateLimitPerMinute: 60,
		},
		Checkout: config.CheckoutConfig{
			DefaultTTL:           time.Hour,
			ExpirySweepInterval:  time.Minute,
			ExpirySweepBatchSize: 10,
		},
		Webhooks: config.WebhookConfig{
			DeliveryTimeout: time.Second,
		},
		Idempotency: config.IdempotencyConfig{
			Header: "Idempotency-Key",
			TTL:    time.Hour,
		},
		Features: config.FeatureFlags{
			EnableWebhookDelivery: true,
		},
	}
}

func TestNewContainerWiresServices(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), nil,
		WithRegistry(memory.NewRegistry()),
		WithIdempotencyStore(idempotency.NewMemoryStore()),
		WithInstrumentResolver(staticResolver{}),
	)
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	defer container.Close(context.Background())

	if container.Services.Checkout == nil {
		t.Fatal("expected checkout service")
	}
	if container.Services.Orders == nil {
		t.Fatal("expected order service")
	}
	if container.Services.Fulfillment == nil || container.Services.Adjustments == nil {
		t.Fatal("expected fulfillment and adjustment services")
	}
	if container.Services.Webhooks == nil {
		t.Fatal("expected webhook service")
	}
	if container.Services.Events == nil {
		t.Fatal("expected event publisher when webhook delivery is enabled")
	}
	if container.Router == nil {
		t.Fatal("expected router")
	}
}

func TestContainerRouterServesHealthz(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), nil,
		WithRegistry(memory.NewRegistry()),
		WithIdempotencyStore(idempotency.NewMemoryStore()),
		WithBuildVersion("test"),
	)
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	defer container.Close(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	container.Router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rr.Code)
	}
}

func TestContainerEndToEndCheckoutFlow(t *testing.T) {
	container, err := NewContainer(context.Background(), testConfig(), nil,
		WithRegistry(memory.NewRegistry()),
		WithIdempotencyStore(idempotency.NewMemoryStore()),
		WithInstrumentResolver(staticResolver{}),
	)
	if err != nil {
		t.Fatalf("NewContainer returned error: %v", err)
	}
	defer container.Close(context.Background())

	ctx := context.Background()
	session, err := container.Services.Checkout.Create(ctx, services.CreateCheckoutCommand{
		TenantID: "tn_1",
		Currency: "USD",
		LineItems: []services.LineItem{
			{Name: "Widget", Quantity: 1, UnitPrice: 2500},
		},
		Buyer: &services.Buyer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	session, err = container.Services.Checkout.Update(ctx, services.UpdateCheckoutCommand{
		TenantID:   "tn_1",
		CheckoutID: session.ID,
		ShippingAddress: &services.Address{
			Name:       "Ada Lovelace",
			Line1:      "1 Analytical Way",
			City:       "London",
			PostalCode: "N1 7GU",
			Country:    "GB",
		},
	})
	if err != nil {
		t.Fatalf("update checkout: %v", err)
	}

	session, err = container.Services.Checkout.AddPaymentInstrument(ctx, services.AddInstrumentCommand{
		TenantID:   "tn_1",
		CheckoutID: session.ID,
		Token:      "tok_visa",
	})
	if err != nil {
		t.Fatalf("add instrument: %v", err)
	}

	completion, err := container.Services.Checkout.Complete(ctx, services.CompleteCheckoutCommand{
		TenantID:      "tn_1",
		CheckoutID:    session.ID,
		TransactionID: "txn_1",
	})
	if err != nil {
		t.Fatalf("complete checkout: %v", err)
	}
	if completion.Order.ID == "" {
		t.Fatal("expected order from completion")
	}

	order, err := container.Services.Orders.GetByCheckoutID(ctx, "tn_1", session.ID)
	if err != nil {
		t.Fatalf("get order by checkout: %v", err)
	}
	if order.ID != completion.Order.ID {
		t.Fatalf("order mismatch: %q vs %q", order.ID, completion.Order.ID)
	}
}
