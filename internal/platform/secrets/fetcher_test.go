package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type stubAccessClient struct {
	accessFn func(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	calls    []string
	closed   bool
}

func (s *stubAccessClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	s.calls = append(s.calls, req.GetName())
	if s.accessFn == nil {
		return nil, status.Error(codes.NotFound, "no stub")
	}
	return s.accessFn(ctx, req)
}

func (s *stubAccessClient) Close() error {
	s.closed = true
	return nil
}

func payload(value string) *secretmanagerpb.AccessSecretVersionResponse {
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}
}

func newTestFetcher(t *testing.T, client accessClient, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{
		WithSecretManagerClient(client),
		WithFallbackFile(filepath.Join(t.TempDir(), "missing")),
	}, opts...)
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func TestResolveFetchesAndCaches(t *testing.T) {
	client := &stubAccessClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			if req.GetName() != "projects/pf-prod/secrets/stripe-api-key/versions/latest" {
				t.Fatalf("unexpected resource %q", req.GetName())
			}
			return payload("sk_live_123"), nil
		},
	}
	fetcher := newTestFetcher(t, client,
		WithEnvironment("production"),
		WithProjectMap(map[string]string{"production": "pf-prod"}),
	)

	for i := 0; i < 2; i++ {
		value, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if value != "sk_live_123" {
			t.Fatalf("value = %q", value)
		}
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected one remote call, got %d", len(client.calls))
	}
}

func TestResolveHonorsVersionPinsAndQueryOverride(t *testing.T) {
	client := &stubAccessClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return payload(req.GetName()), nil
		},
	}
	fetcher := newTestFetcher(t, client,
		WithEnvironment("staging"),
		WithDefaultProject("pf-staging"),
		WithVersionPins(map[string]string{
			"secret://webhook-signing-key":       "4",
			"staging:secret://stripe-api-key":    "7",
			"production:secret://stripe-api-key": "9",
		}),
	)

	cases := []struct {
		ref  string
		want string
	}{
		{"secret://stripe-api-key", "projects/pf-staging/secrets/stripe-api-key/versions/7"},
		{"secret://webhook-signing-key", "projects/pf-staging/secrets/webhook-signing-key/versions/4"},
		{"secret://stripe-api-key?version=2", "projects/pf-staging/secrets/stripe-api-key/versions/2"},
		{"secret://stripe-api-key?project=pf-shared", "projects/pf-shared/secrets/stripe-api-key/versions/7"},
	}
	for _, tc := range cases {
		value, err := fetcher.Resolve(context.Background(), tc.ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tc.ref, err)
		}
		if value != tc.want {
			t.Fatalf("Resolve(%q) = %q, want %q", tc.ref, value, tc.want)
		}
	}
}

func TestResolveCachesPerProject(t *testing.T) {
	client := &stubAccessClient{
		accessFn: func(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return payload(req.GetName()), nil
		},
	}
	fetcher := newTestFetcher(t, client, WithDefaultProject("pf-staging"))

	first, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve default project: %v", err)
	}
	if first != "projects/pf-staging/secrets/stripe-api-key/versions/latest" {
		t.Fatalf("default project value = %q", first)
	}

	second, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key?project=pf-shared")
	if err != nil {
		t.Fatalf("Resolve override project: %v", err)
	}
	if second != "projects/pf-shared/secrets/stripe-api-key/versions/latest" {
		t.Fatalf("override project value = %q", second)
	}
	if len(client.calls) != 2 {
		t.Fatalf("expected one remote call per project, got %d", len(client.calls))
	}
}

func TestResolveRetriesTransientErrors(t *testing.T) {
	attempts := 0
	client := &stubAccessClient{
		accessFn: func(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			attempts++
			if attempts < 3 {
				return nil, status.Error(codes.Unavailable, "flaky")
			}
			return payload("eventually"), nil
		},
	}
	fetcher := newTestFetcher(t, client, WithDefaultProject("pf"))

	value, err := fetcher.Resolve(context.Background(), "secret://flaky-secret")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "eventually" {
		t.Fatalf("value = %q", value)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestResolveDoesNotRetryNotFound(t *testing.T) {
	client := &stubAccessClient{
		accessFn: func(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.NotFound, "gone")
		},
	}
	fetcher := newTestFetcher(t, client, WithDefaultProject("pf"))

	if _, err := fetcher.Resolve(context.Background(), "secret://absent"); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if len(client.calls) != 1 {
		t.Fatalf("NotFound should not retry, got %d calls", len(client.calls))
	}
}

func TestResolveFallsBackToFileOnPermissionDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local overrides\n" +
		"sm://stripe-api-key=sk_test_local\n" +
		"secret://webhook-signing-key=whsec_local\n" +
		"PLAIN_KEY=plain_value\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	client := &stubAccessClient{
		accessFn: func(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, status.Error(codes.PermissionDenied, "no access")
		},
	}
	fetcher := newTestFetcher(t, client,
		WithDefaultProject("pf"),
		WithFallbackFile(path),
	)

	value, err := fetcher.Resolve(context.Background(), "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "sk_test_local" {
		t.Fatalf("value = %q", value)
	}

	value, err = fetcher.Resolve(context.Background(), "secret://webhook-signing-key?version=3")
	if err != nil {
		t.Fatalf("Resolve pinned: %v", err)
	}
	if value != "whsec_local" {
		t.Fatalf("pinned value = %q", value)
	}
}

func TestResolveWithoutClientUsesFallbackOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://db-password=hunter2\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}

	orig := newSecretManagerClient
	newSecretManagerClient = func(_ context.Context, _ ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("secret manager offline")
	}
	t.Cleanup(func() { newSecretManagerClient = orig })

	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })

	value, err := fetcher.Resolve(context.Background(), "secret://db-password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if value != "hunter2" {
		t.Fatalf("value = %q", value)
	}
}

func TestInvalidateDropsCachedValue(t *testing.T) {
	value := "first"
	client := &stubAccessClient{
		accessFn: func(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return payload(value), nil
		},
	}
	fetcher := newTestFetcher(t, client, WithDefaultProject("pf"))

	got, err := fetcher.Resolve(context.Background(), "secret://rotating")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "first" {
		t.Fatalf("value = %q", got)
	}

	value = "second"
	fetcher.Invalidate("secret://rotating")

	got, err = fetcher.Resolve(context.Background(), "secret://rotating")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if got != "second" {
		t.Fatalf("value after invalidate = %q", got)
	}
}

func TestParseRefRejectsBadInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "http://nope", "secret://"} {
		if _, err := parseRef(raw); err == nil {
			t.Fatalf("parseRef(%q) should fail", raw)
		}
	}
}

func TestResolveErrorWrapsCause(t *testing.T) {
	cause := status.Error(codes.Internal, "boom")
	client := &stubAccessClient{
		accessFn: func(_ context.Context, _ *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
			return nil, cause
		},
	}
	fetcher := newTestFetcher(t, client, WithDefaultProject("pf"))

	_, err := fetcher.Resolve(context.Background(), "secret://broken")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("error should wrap cause, got %v", err)
	}
}
