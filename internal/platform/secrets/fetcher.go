package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	meterName           = "github.com/payforge/api/internal/platform/secrets"
	maxFetchAttempts    = 3
)

// accessClient is the slice of the Secret Manager client the fetcher needs.
type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references against Google Secret Manager, with a
// process-local cache and a plaintext fallback file for development.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	logger     *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	pendingClientOpts []option.ClientOption

	resolveDuration metric.Float64Histogram
	cacheHits       metric.Int64Counter
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects which per-environment project mapping applies.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject sets the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies environment-to-project routing.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher) {
		f.projectByEnv = cloneMap(m)
	}
}

// WithFallbackFile points at the local plaintext secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallbackPath = strings.TrimSpace(path)
	}
}

// WithVersionPins pins specific secret versions, keyed by canonical reference
// or by "env:reference" for per-environment pins.
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) {
		f.versionPins = cloneMap(pins)
	}
}

// WithSecretManagerClient injects a client, primarily for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.pendingClientOpts = append(f.pendingClientOpts, opts...)
	}
}

// NewFetcher constructs a Fetcher. When Secret Manager is unreachable the
// fetcher still works in fallback-file-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		projectByEnv: map[string]string{},
		versionPins:  map[string]string{},
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]string),
	}
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))); env != "" {
		f.env = env
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}

	meter := otel.GetMeterProvider().Meter(meterName)
	if hist, err := meter.Float64Histogram(
		"secrets.resolve.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent resolving a secret reference"),
	); err == nil {
		f.resolveDuration = hist
	} else {
		f.logger.Warn("secrets: duration metric unavailable", zap.Error(err))
	}
	if counter, err := meter.Int64Counter(
		"secrets.resolve.cache_hits",
		metric.WithDescription("Secret resolutions served from the in-process cache"),
	); err == nil {
		f.cacheHits = counter
	} else {
		f.logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, f.pendingClientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager unreachable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	f.pendingClientOpts = nil

	return f, nil
}

// Close releases the Secret Manager client when the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret://name[?version=N&project=P]
// reference. Values are cached for the process lifetime.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()

	ref, err := parseRef(raw)
	if err != nil {
		return "", err
	}
	version := f.pinnedVersion(ref)
	project := f.projectFor(ref)
	// The same secret name can resolve to different projects, so the
	// cache entry is keyed by project as well as version.
	key := ref.canonical + "#" + version + "#" + project

	f.mu.RLock()
	cached, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		f.observe(ctx, start, "cache")
		if f.cacheHits != nil {
			f.cacheHits.Add(ctx, 1)
		}
		return cached, nil
	}

	if project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.name, version)
		if err == nil {
			f.store(key, value)
			f.observe(ctx, start, "remote")
			return value, nil
		}
		if !fallbackEligible(err) {
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: remote fetch failed, trying fallback file",
			zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := f.fromFallback(ref, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: no value available for %s", ref.canonical)
	}
	f.store(key, value)
	f.observe(ctx, start, "fallback")
	return value, nil
}

// Invalidate drops all cached versions of the reference.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseRef(raw)
	if err != nil {
		return
	}
	prefix := ref.canonical + "#"
	f.mu.Lock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
	f.mu.Unlock()
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

// access reads one secret version, retrying transient failures with backoff.
func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	backoff := gax.Backoff{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return "", err
			}
		}
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		if err == nil {
			if resp == nil || resp.Payload == nil {
				return "", fmt.Errorf("secrets: empty payload for %s", resource)
			}
			return string(resp.Payload.GetData()), nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return "", lastErr
}

func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}

// fallbackEligible reports whether the local file should be consulted after a
// remote failure. Hard errors like NotFound surface to the caller instead.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func (f *Fetcher) projectFor(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if project := strings.TrimSpace(f.projectByEnv[f.env]); project != "" {
		return project
	}
	return f.defaultProject
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return defaultVersion
}

func (f *Fetcher) fromFallback(ref secretRef, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallbackFile)
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback file unusable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.canonical+"#"+version]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical]
	return value, ok
}

// loadFallbackFile parses KEY=VALUE lines; keys may be bare names, secret://
// or sm:// references, optionally with a version query.
func (f *Fetcher) loadFallbackFile() {
	f.fallback = map[string]string{}
	path := f.fallbackPath
	if path == "" {
		return
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			continue
		}
		value = strings.TrimSpace(value)

		if strings.HasPrefix(name, "sm://") {
			name = "secret://" + strings.TrimPrefix(name, "sm://")
		}
		if ref, err := parseRef(name); err == nil {
			version := ref.version
			if version == "" {
				version = defaultVersion
			}
			f.fallback[ref.canonical] = value
			f.fallback[ref.canonical+"#"+version] = value
			continue
		}
		f.fallback[name] = value
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.resolveDuration == nil {
		return
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	f.resolveDuration.Record(ctx, elapsed, metric.WithAttributes(attribute.String("source", source)))
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(raw string) (secretRef, error) {
	if strings.TrimSpace(raw) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return secretRef{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
