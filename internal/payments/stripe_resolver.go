// Package payments validates tokenised payment instruments against the PSP.
// Only masked display metadata ever crosses into the rest of the system.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/payforge/api/internal/domain"
	"github.com/payforge/api/internal/services"
)

const handlerStripe = "stripe"

// StripeLogger defines the logging contract for resolver operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

// StripeResolverConfig configures the StripeInstrumentResolver.
type StripeResolverConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger

	// API overrides the Stripe client, primarily for testing.
	API stripePaymentMethodAPI
}

// StripeInstrumentResolver resolves payment method tokens through the Stripe
// API and returns masked card metadata.
type StripeInstrumentResolver struct {
	api     stripePaymentMethodAPI
	account string
	logger  StripeLogger
}

// NewStripeInstrumentResolver constructs a resolver from the given configuration.
func NewStripeInstrumentResolver(cfg StripeResolverConfig) (*StripeInstrumentResolver, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.API == nil {
		return nil, errors.New("stripe: api key is required")
	}

	api := cfg.API
	if api == nil {
		sc := client.New(apiKey, cfg.Backends)
		api = sc.PaymentMethods
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeInstrumentResolver{
		api:     api,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// Resolve fetches the payment method behind the token and maps it to a masked
// instrument. The token doubles as the instrument ID.
func (r *StripeInstrumentResolver) Resolve(ctx context.Context, token string) (domain.PaymentInstrument, error) {
	if r == nil || r.api == nil {
		return domain.PaymentInstrument{}, errors.New("stripe: resolver not initialised")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return domain.PaymentInstrument{}, errors.New("stripe: payment method token is required")
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}

	pm, err := r.api.Get(token, params)
	if err != nil {
		return domain.PaymentInstrument{}, fmt.Errorf("stripe: resolve payment method: %w", err)
	}

	instrument := domain.PaymentInstrument{
		ID:      token,
		Handler: handlerStripe,
	}
	if pm == nil {
		return instrument, nil
	}
	if trimmed := strings.TrimSpace(pm.ID); trimmed != "" {
		instrument.ID = trimmed
	}

	instrument.Type = string(pm.Type)
	if pm.Type == stripe.PaymentMethodTypeCard && pm.Card != nil {
		instrument.Brand = strings.ToLower(string(pm.Card.Brand))
		instrument.Last4 = strings.TrimSpace(pm.Card.Last4)
	}

	r.logger(ctx, "payments.stripe.instrument.resolved", map[string]any{
		"instrument": instrument.ID,
		"type":       instrument.Type,
	})

	return instrument, nil
}

var _ services.InstrumentResolver = (*StripeInstrumentResolver)(nil)
