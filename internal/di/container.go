package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/payforge/api/internal/handlers"
	"github.com/payforge/api/internal/payments"
	"github.com/payforge/api/internal/platform/config"
	pfirestore "github.com/payforge/api/internal/platform/firestore"
	"github.com/payforge/api/internal/platform/idempotency"
	"github.com/payforge/api/internal/platform/notify"
	"github.com/payforge/api/internal/platform/observability"
	platformstorage "github.com/payforge/api/internal/platform/storage"
	"github.com/payforge/api/internal/repositories"
	firestoreRepo "github.com/payforge/api/internal/repositories/firestore"
	"github.com/payforge/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Fulfillment services.FulfillmentService
	Adjustments services.AdjustmentService
	Webhooks    services.WebhookService
	Events      services.EventPublisher
}

// Container wires repositories, services, the router, and background infrastructure
// for runtime use.
type Container struct {
	Config           config.Config
	Logger           *zap.Logger
	Repositories     repositories.Registry
	Services         Services
	Router           http.Handler
	IdempotencyStore idempotency.Store

	provider      *pfirestore.Provider
	pubsubClient  *pubsub.Client
	pubsubTopic   *pubsub.Topic
	storageClient *gcs.Client
}

type containerOptions struct {
	registry         repositories.Registry
	instruments      services.InstrumentResolver
	sink             services.NotificationSink
	receipts         services.ReceiptArchiver
	idempotencyStore idempotency.Store
	clock            func() time.Time
	buildVersion     string
}

// ContainerOption customises container assembly, primarily for tests and local runs.
type ContainerOption func(*containerOptions)

// WithRegistry injects a pre-built repository registry instead of the
// Firestore-backed default.
func WithRegistry(reg repositories.Registry) ContainerOption {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithInstrumentResolver overrides the PSP-backed instrument resolver.
func WithInstrumentResolver(resolver services.InstrumentResolver) ContainerOption {
	return func(o *containerOptions) {
		o.instruments = resolver
	}
}

// WithNotificationSink overrides the Pub/Sub notification sink.
func WithNotificationSink(sink services.NotificationSink) ContainerOption {
	return func(o *containerOptions) {
		o.sink = sink
	}
}

// WithReceiptArchiver overrides the Cloud Storage receipt archiver.
func WithReceiptArchiver(archiver services.ReceiptArchiver) ContainerOption {
	return func(o *containerOptions) {
		o.receipts = archiver
	}
}

// WithIdempotencyStore overrides the store guarding mutating requests.
func WithIdempotencyStore(store idempotency.Store) ContainerOption {
	return func(o *containerOptions) {
		o.idempotencyStore = store
	}
}

// WithClock overrides the time source used by all services.
func WithClock(clock func() time.Time) ContainerOption {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithBuildVersion reports the given version from the health endpoints.
func WithBuildVersion(version string) ContainerOption {
	return func(o *containerOptions) {
		o.buildVersion = version
	}
}

// NewContainer constructs the runtime dependencies from configuration. Production
// wiring talks to Firestore, Pub/Sub, Cloud Storage, and Stripe; tests can swap
// any of those through options.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...ContainerOption) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	reg := options.registry
	if reg == nil {
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("initialise firestore client: %w", err)
		}
		fsReg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return nil, fmt.Errorf("initialise firestore registry: %w", err)
		}
		c.provider = provider
		reg = fsReg
	}
	c.Repositories = reg

	store := options.idempotencyStore
	if store == nil {
		if c.provider != nil {
			client, err := c.provider.Client(ctx)
			if err != nil {
				return nil, fmt.Errorf("initialise idempotency store: %w", err)
			}
			store = idempotency.NewFirestoreStore(client)
		} else {
			store = idempotency.NewMemoryStore()
		}
	}
	c.IdempotencyStore = store

	svc, err := c.buildServices(ctx, options)
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}
	c.Services = svc

	c.Router = c.buildRouter(options)
	return c, nil
}

// Close releases repository clients, messaging topics, and storage handles.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsubTopic != nil {
		c.pubsubTopic.Stop()
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.storageClient != nil {
		if err := c.storageClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage client: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) buildServices(ctx context.Context, options containerOptions) (Services, error) {
	var svc Services
	cfg := c.Config
	reg := c.Repositories

	webhookSvc, err := services.NewWebhookService(services.WebhookServiceDeps{
		Endpoints: reg.WebhookEndpoints(),
		Logger:    zapServiceLogger(c.Logger.Named("webhooks")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build webhook service: %w", err)
	}
	svc.Webhooks = webhookSvc

	if cfg.Features.EnableWebhookDelivery {
		sink := options.sink
		if sink == nil && cfg.PubSub.NotificationTopic != "" {
			pubsubSink, err := c.buildPubSubSink(ctx, cfg.PubSub)
			if err != nil {
				return Services{}, err
			}
			sink = pubsubSink
		}
		events, err := services.NewWebhookDispatcher(services.WebhookDispatcherDeps{
			Endpoints:       reg.WebhookEndpoints(),
			Sink:            sink,
			DeliveryTimeout: cfg.Webhooks.DeliveryTimeout,
			SigningSecret:   cfg.Webhooks.SigningSecret,
			Logger:          zapServiceLogger(c.Logger.Named("dispatch")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build webhook dispatcher: %w", err)
		}
		svc.Events = events
	}

	receipts := options.receipts
	if receipts == nil && cfg.Features.EnableReceiptArchiving && cfg.Storage.ReceiptsBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return Services{}, fmt.Errorf("initialise storage client: %w", err)
		}
		c.storageClient = client
		archiver, err := platformstorage.NewReceiptArchiver(client, cfg.Storage.ReceiptsBucket)
		if err != nil {
			return Services{}, fmt.Errorf("build receipt archiver: %w", err)
		}
		receipts = archiver
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg.UnitOfWork(),
		Clock:      options.clock,
		Events:     svc.Events,
		Receipts:   receipts,
		Logger:     zapServiceLogger(c.Logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	fulfillmentSvc, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg.UnitOfWork(),
		Clock:      options.clock,
		Events:     svc.Events,
		Logger:     zapServiceLogger(c.Logger.Named("fulfillment")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillmentSvc

	adjustmentSvc, err := services.NewAdjustmentService(services.AdjustmentServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg.UnitOfWork(),
		Clock:      options.clock,
		Events:     svc.Events,
		Logger:     zapServiceLogger(c.Logger.Named("adjustments")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build adjustment service: %w", err)
	}
	svc.Adjustments = adjustmentSvc

	instruments := options.instruments
	if instruments == nil && cfg.PSP.StripeAPIKey != "" {
		resolver, err := payments.NewStripeInstrumentResolver(payments.StripeResolverConfig{
			APIKey: cfg.PSP.StripeAPIKey,
			Logger: zapServiceLogger(c.Logger.Named("payments")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build stripe resolver: %w", err)
		}
		instruments = resolver
	}

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Checkouts:   reg.Checkouts(),
		Orders:      orderSvc,
		Instruments: instruments,
		UnitOfWork:  reg.UnitOfWork(),
		Clock:       options.clock,
		Events:      svc.Events,
		Logger:      zapServiceLogger(c.Logger.Named("checkout")),
		Pricing:     pricingFromConfig(cfg.Checkout),
		DefaultTTL:  cfg.Checkout.DefaultTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	return svc, nil
}

func (c *Container) buildPubSubSink(ctx context.Context, cfg config.PubSubConfig) (services.NotificationSink, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialise pubsub client: %w", err)
	}
	c.pubsubClient = client
	topic := client.Topic(cfg.NotificationTopic)
	c.pubsubTopic = topic
	sink, err := notify.NewPubSubNotificationSink(topic)
	if err != nil {
		return nil, fmt.Errorf("build pubsub sink: %w", err)
	}
	return sink, nil
}

// buildReceiptLinks wires signed receipt downloads when a signer key and
// receipts bucket are configured. Returns nil when the feature is off.
func (c *Container) buildReceiptLinks() (*platformstorage.ReceiptLinks, error) {
	cfg := c.Config.Storage
	if cfg.SignerKeyFile == "" || cfg.ReceiptsBucket == "" {
		return nil, nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromFile(cfg.SignerKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load storage signer: %w", err)
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		return nil, fmt.Errorf("build storage signing client: %w", err)
	}
	return platformstorage.NewReceiptLinks(client, cfg.ReceiptsBucket, platformstorage.WithReceiptURLExpiry(cfg.SignedURLTTL))
}

func (c *Container) buildRouter(options containerOptions) http.Handler {
	cfg := c.Config
	logger := c.Logger

	checkoutHandlers := handlers.NewCheckoutHandlers(c.Services.Checkout)

	orderOpts := []handlers.OrderHandlerOption{}
	if linker, err := c.buildReceiptLinks(); err != nil {
		logger.Warn("receipt link signing disabled", zap.Error(err))
	} else if linker != nil {
		orderOpts = append(orderOpts, handlers.WithReceiptLinker(linker))
	}
	orderHandlers := handlers.NewOrderHandlers(c.Services.Orders, c.Services.Fulfillment, c.Services.Adjustments, orderOpts...)
	webhookHandlers := handlers.NewWebhookHandlers(c.Services.Webhooks)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthVersion(options.buildVersion),
	}
	if c.provider != nil {
		provider := c.provider
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			_, err = client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := cfg.Firestore.ProjectID
	idempotencyMiddleware := idempotency.Middleware(
		c.IdempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithTenantMiddlewares(
			handlers.RequireTenant(),
			handlers.TenantRateLimit(cfg.Server.RateLimitPerMinute, time.Minute),
			idempotencyMiddleware,
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)
}

func pricingFromConfig(cfg config.CheckoutConfig) services.TotalsOptions {
	var pricing services.TotalsOptions
	if cfg.TaxRate > 0 {
		rate := cfg.TaxRate
		pricing.TaxRate = &rate
	}
	if cfg.ShippingAmount > 0 {
		amount := cfg.ShippingAmount
		pricing.ShippingAmount = &amount
	}
	if cfg.DiscountAmount > 0 {
		amount := cfg.DiscountAmount
		pricing.DiscountAmount = &amount
	}
	return pricing
}

func zapServiceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}
