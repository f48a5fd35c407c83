package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/payforge/api/internal/di"
	"github.com/payforge/api/internal/platform/config"
	"github.com/payforge/api/internal/platform/observability"
	"github.com/payforge/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger,
		di.WithBuildVersion(buildVersion(envValues)),
	)
	if err != nil {
		logger.Fatal("failed to assemble container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	if cfg.Idempotency.CleanupInterval > 0 {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			runIdempotencyCleanup(backgroundCtx, container, logger.Named("idempotency"))
		}()
	}

	if cfg.Checkout.ExpirySweepInterval > 0 {
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			runExpirySweeper(backgroundCtx, container, logger.Named("expiry"))
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("payforge api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// runIdempotencyCleanup periodically removes expired idempotency records so
// replays of old keys do not accumulate unbounded state.
func runIdempotencyCleanup(ctx context.Context, container *di.Container, logger *zap.Logger) {
	cfg := container.Config.Idempotency
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := container.IdempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// runExpirySweeper expires stale checkout sessions across all tenants. The
// repository surfaces candidates tenant-agnostically; expiry itself goes
// through the checkout service so each session gets its terminal transition
// and events.
func runExpirySweeper(ctx context.Context, container *di.Container, logger *zap.Logger) {
	cfg := container.Config.Checkout
	ticker := time.NewTicker(cfg.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			sweepExpiredCheckouts(runCtx, container, cfg.ExpirySweepBatchSize, logger)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func sweepExpiredCheckouts(ctx context.Context, container *di.Container, batchSize int, logger *zap.Logger) {
	candidates, err := container.Repositories.Checkouts().ListExpired(ctx, "", batchSize)
	if err != nil {
		logger.Error("expiry sweep listing failed", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	tenants := make(map[string]struct{}, len(candidates))
	for _, session := range candidates {
		tenants[session.TenantID] = struct{}{}
	}

	total := 0
	for tenant := range tenants {
		expired, err := container.Services.Checkout.ExpireStale(ctx, tenant, batchSize)
		if err != nil {
			logger.Error("expiry sweep failed for tenant", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		total += expired
	}
	if total > 0 {
		logger.Info("expired stale checkout sessions", zap.Int("count", total))
	}
}

func buildVersion(env map[string]string) string {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	return version
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames marks configured secret-bearing fields as mandatory so a
// reference that fails to resolve aborts startup instead of running without a
// key.
func requiredSecretNames(env map[string]string) []string {
	candidates := map[string]string{
		"API_PSP_STRIPE_API_KEY":        "PSP.StripeAPIKey",
		"API_PSP_STRIPE_WEBHOOK_SECRET": "PSP.StripeWebhookSecret",
		"API_WEBHOOK_SIGNING_SECRET":    "Webhooks.SigningSecret",
	}

	var required []string
	for envKey, field := range candidates {
		if env == nil {
			continue
		}
		if strings.TrimSpace(env[envKey]) != "" {
			required = append(required, field)
		}
	}
	sort.Strings(required)
	return required
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	return parseKeyValueList(envValue(env, "API_SECRET_PROJECT_IDS"), strings.ToLower, nil)
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	return parseKeyValueList(envValue(env, "API_SECRET_VERSION_PINS"), normalizeSecretRef, nil)
}

func envValue(env map[string]string, key string) string {
	if env == nil {
		return ""
	}
	return env[key]
}

func normalizeSecretRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		return "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	if !strings.HasPrefix(ref, "secret://") {
		return "secret://" + ref
	}
	return ref
}

func parseKeyValueList(raw string, keyFn func(string) string, valueFn func(string) string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		if keyFn != nil {
			key = keyFn(key)
		}
		if valueFn != nil {
			value = valueFn(value)
		}
		result[key] = value
	}
	return result
}
