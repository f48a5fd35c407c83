// Package config loads runtime configuration from the environment, an
// optional .env file, and Secret Manager references.
package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCheckoutTTL          = 24 * time.Hour
	defaultExpirySweepInterval  = 5 * time.Minute
	defaultExpirySweepBatchSize = 100
	defaultWebhookTimeout       = 10 * time.Second
	defaultSignedURLTTL         = 5 * time.Minute
	defaultRateLimitPerMinute   = 120
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencySweep     = 10 * time.Minute
	defaultIdempotencyBatchSize = 100
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Checkout    CheckoutConfig
	Webhooks    WebhookConfig
	Idempotency IdempotencyConfig
	Features    FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	RateLimitPerMinute int
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic carrying outbound notifications.
type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
	EmulatorHost      string
}

// StorageConfig lists bucket names and signing parameters used by the application.
type StorageConfig struct {
	ReceiptsBucket string
	SignerKeyFile  string
	SignedURLTTL   time.Duration
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// CheckoutConfig controls session lifetimes and pricing defaults.
type CheckoutConfig struct {
	DefaultTTL           time.Duration
	TaxRate              float64
	ShippingAmount       int64
	DiscountAmount       int64
	ExpirySweepInterval  time.Duration
	ExpirySweepBatchSize int
}

// WebhookConfig contains outbound webhook delivery parameters.
type WebhookConfig struct {
	DeliveryTimeout time.Duration
	SigningSecret   string
	AllowedHosts    []string
}

// IdempotencyConfig controls replay protection for mutating requests.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableWebhookDelivery  bool
	EnableReceiptArchiving bool
}

// SecretResolver resolves secret:// references to their values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// ValidationError reports required fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failure resolving one secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to nothing.
// Error output carries only redacted identifiers.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	redacted := e.RedactedNames()
	if len(redacted) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// RedactedNames returns sorted redacted identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	return e.names(func(s missingSecret) string { return s.redacted })
}

// Names returns the sorted plain identifiers.
func (e *MissingSecretsError) Names() []string {
	return e.names(func(s missingSecret) string { return s.name })
}

func (e *MissingSecretsError) names(pick func(missingSecret) string) []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, pick(secret))
	}
	sort.Strings(out)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit key/value overrides. Map values win over both
// the system environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv restricts lookups to the env map and .env file.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields whose secrets must resolve to a
// non-empty value, identified by field path (e.g. "PSP.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic instead of returning the
// missing-secrets error. Used at startup where continuing is pointless.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// source answers key lookups with the precedence env map > system env > .env.
type source struct {
	overrides map[string]string
	system    bool
	dotenv    map[string]string
}

func newSource(options loaderOptions) (source, error) {
	dotenv, err := parseEnvFile(options.envFile)
	if err != nil {
		return source{}, err
	}
	return source{
		overrides: options.envMap,
		system:    options.useSystemEnv,
		dotenv:    dotenv,
	}, nil
}

func (s source) get(key string) (string, bool) {
	if value, ok := s.overrides[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s source) str(key, fallback string) string {
	if value, ok := s.get(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s source) dur(key string, fallback time.Duration) time.Duration {
	if value, ok := s.get(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s source) num(key string, fallback int) int {
	if value, ok := s.get(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) num64(key string, fallback int64) int64 {
	if value, ok := s.get(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (s source) frac(key string, fallback float64) float64 {
	if value, ok := s.get(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func (s source) flag(key string, fallback bool) bool {
	value, ok := s.get(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (s source) list(key string) []string {
	raw, _ := s.get(key)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnvironmentValues returns the flattened key/value environment after
// applying the same precedence Load uses. Callers use it to bootstrap
// dependencies (like the secret fetcher) before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	dotenv, err := parseEnvFile(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotenv)+len(options.envMap))
	for key, value := range dotenv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, the .env file, environment
// variables, and secret resolution, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	env, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:               env.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:        env.dur("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:       env.dur("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:        env.dur("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RateLimitPerMinute: env.num("API_SERVER_RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:         env.str("API_PUBSUB_PROJECT_ID", ""),
			NotificationTopic: env.str("API_PUBSUB_NOTIFICATION_TOPIC", ""),
			EmulatorHost:      env.str("API_PUBSUB_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ReceiptsBucket: env.str("API_STORAGE_RECEIPTS_BUCKET", ""),
			SignerKeyFile:  env.str("API_STORAGE_SIGNER_KEY_FILE", ""),
			SignedURLTTL:   env.dur("API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey:        env.str("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: env.str("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
		},
		Checkout: CheckoutConfig{
			DefaultTTL:           env.dur("API_CHECKOUT_DEFAULT_TTL", defaultCheckoutTTL),
			TaxRate:              env.frac("API_CHECKOUT_TAX_RATE", 0),
			ShippingAmount:       env.num64("API_CHECKOUT_SHIPPING_AMOUNT", 0),
			DiscountAmount:       env.num64("API_CHECKOUT_DISCOUNT_AMOUNT", 0),
			ExpirySweepInterval:  env.dur("API_CHECKOUT_EXPIRY_SWEEP_INTERVAL", defaultExpirySweepInterval),
			ExpirySweepBatchSize: env.num("API_CHECKOUT_EXPIRY_SWEEP_BATCH", defaultExpirySweepBatchSize),
		},
		Webhooks: WebhookConfig{
			DeliveryTimeout: env.dur("API_WEBHOOK_DELIVERY_TIMEOUT", defaultWebhookTimeout),
			SigningSecret:   env.str("API_WEBHOOK_SIGNING_SECRET", ""),
			AllowedHosts:    env.list("API_WEBHOOK_ALLOWED_HOSTS"),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.dur("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.dur("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencySweep),
			CleanupBatchSize: env.num("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Features: FeatureFlags{
			EnableWebhookDelivery:  env.flag("API_FEATURE_WEBHOOK_DELIVERY", true),
			EnableReceiptArchiving: env.flag("API_FEATURE_RECEIPT_ARCHIVING", false),
		},
	}

	// PubSub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	for _, target := range []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Webhooks.SigningSecret", &cfg.Webhooks.SigningSecret},
	} {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := missingRequiredSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func (cfg Config) validate() error {
	checks := []struct {
		bad   bool
		field string
	}{
		{cfg.Server.Port == "", "Server.Port"},
		{cfg.Firestore.ProjectID == "", "Firestore.ProjectID"},
		{cfg.Checkout.DefaultTTL <= 0, "Checkout.DefaultTTL"},
		{cfg.Checkout.TaxRate < 0 || cfg.Checkout.TaxRate >= 1, "Checkout.TaxRate"},
		{cfg.Checkout.ExpirySweepInterval <= 0, "Checkout.ExpirySweepInterval"},
		{cfg.Checkout.ExpirySweepBatchSize <= 0, "Checkout.ExpirySweepBatchSize"},
		{cfg.Webhooks.DeliveryTimeout <= 0, "Webhooks.DeliveryTimeout"},
	}

	var bad []string
	for _, check := range checks {
		if check.bad {
			bad = append(bad, check.field)
		}
	}
	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

// resolveSecret passes plain values through and resolves secret:// and the
// legacy sm:// scheme via the configured resolver.
func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	if !strings.HasPrefix(ref, "secret://") {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func missingRequiredSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// parseEnvFile reads KEY=VALUE lines, ignoring comments, blank lines, and an
// optional "export " prefix. A missing file is not an error.
func parseEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
