package idempotency

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/payforge/api/internal/platform/httpx"
	"github.com/payforge/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger abstracts the logging dependency used for persistence failures.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store  Store
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLogger injects a logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware replays stored responses for mutating requests that repeat an
// idempotency key. Requests without the key header pass through untouched.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			key := strings.TrimSpace(r.Header.Get(g.header))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			g.handle(w, r, key, next)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (g *guard) handle(w http.ResponseWriter, r *http.Request, key string, next http.Handler) {
	ctx := r.Context()

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_body_unreadable", "unable to read request body", http.StatusInternalServerError))
		return
	}

	tenant := requestctx.Tenant(ctx)
	scoped := tenant + "\x00" + key
	fp := fingerprint(r, tenant, body)
	now := g.clock().UTC()

	outcome, err := g.store.Begin(ctx, scoped, fp, now, g.ttl)
	if err != nil {
		if err == ErrFingerprintMismatch {
			httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
			return
		}
		g.logf("idempotency: begin failed for key %s: %v", key, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
		return
	}

	switch outcome.Kind {
	case OutcomeReplay:
		replay(w, outcome.Response)
		return
	case OutcomeInFlight:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
		return
	}

	capture := &capturingWriter{header: make(http.Header)}
	next.ServeHTTP(capture, r)

	stored := StoredResponse{
		StatusCode: capture.statusCode(),
		Header:     capture.header,
		Body:       capture.body.Bytes(),
	}
	if err := g.store.Complete(ctx, scoped, fp, stored, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist failed for key %s: %v", key, err)
		if abandonErr := g.store.Abandon(ctx, scoped, fp); abandonErr != nil {
			g.logf("idempotency: abandon failed for key %s: %v", key, abandonErr)
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}

	capture.flush(w)
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprint(r *http.Request, tenant string, body []byte) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		tenant,
		docID(string(body)),
	}
	return docID(strings.Join(parts, "\n"))
}

func replay(w http.ResponseWriter, resp StoredResponse) {
	dst := w.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range resp.Header {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	dst.Set(replayHeaderName, "true")

	code := resp.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// capturingWriter buffers the downstream response so it can be persisted
// before anything reaches the client.
type capturingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) Header() http.Header {
	return c.header
}

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *capturingWriter) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *capturingWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capturingWriter) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.statusCode())
	if c.body.Len() > 0 {
		_, _ = w.Write(c.body.Bytes())
	}
}
