package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry = 5 * time.Minute
	maxSignedURLExpiry     = 15 * time.Minute
)

var (
	errNoSigner         = errors.New("storage: signer is required")
	errInvalidBucket    = errors.New("storage: bucket name is required")
	errInvalidObject    = errors.New("storage: object name is required")
	errMethodNotAllowed = errors.New("storage: HTTP method not allowed")
	errExpiryTooLong    = errors.New("storage: expiry exceeds permitted maximum")
)

// Client mints signed URLs for bucket objects without holding service account
// keys itself; signing is delegated to the configured Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects the time source used for expiry calculation.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient wraps the signer. The signer must report a service account email.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DownloadOptions shape the signed URL. Only read methods are accepted.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	CacheControl string
	ResponseType string
	Query        map[string]string
}

// SignedURLResult is the minted URL with its effective method and expiry.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// SignedDownloadURL creates a time-limited read URL for the object.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if strings.TrimSpace(bucket) == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	if strings.TrimSpace(object) == "" {
		return SignedURLResult{}, errInvalidObject
	}

	method, err := downloadMethod(opts.Method)
	if err != nil {
		return SignedURLResult{}, err
	}
	expiry, err := downloadExpiry(opts.ExpiresIn)
	if err != nil {
		return SignedURLResult{}, err
	}
	expiresAt := c.now().Add(expiry)

	signed, err := storage.SignedURL(strings.TrimSpace(bucket), strings.TrimSpace(object), &storage.SignedURLOptions{
		GoogleAccessID:  c.signer.Email(),
		Scheme:          c.scheme,
		Method:          method,
		Expires:         expiresAt,
		QueryParameters: responseQuery(opts),
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}

	return SignedURLResult{URL: signed, Method: method, ExpiresAt: expiresAt}, nil
}

func downloadMethod(method string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "", http.MethodGet:
		return http.MethodGet, nil
	case http.MethodHead:
		return http.MethodHead, nil
	}
	return "", errMethodNotAllowed
}

func downloadExpiry(expiry time.Duration) (time.Duration, error) {
	if expiry <= 0 {
		return defaultSignedURLExpiry, nil
	}
	if expiry > maxSignedURLExpiry {
		return 0, errExpiryTooLong
	}
	return expiry, nil
}

// responseQuery maps the response override options onto the GCS query
// parameters, with explicit Query entries losing to the typed fields.
func responseQuery(opts DownloadOptions) url.Values {
	values := url.Values{}
	for key, value := range opts.Query {
		if value != "" {
			values.Set(key, value)
		}
	}
	if opts.Disposition != "" {
		values.Set("response-content-disposition", opts.Disposition)
	}
	if opts.CacheControl != "" {
		values.Set("response-cache-control", opts.CacheControl)
	}
	if opts.ResponseType != "" {
		values.Set("response-content-type", opts.ResponseType)
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
