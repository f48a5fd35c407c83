package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ReceiptLinks issues short-lived signed download URLs for archived order receipts.
type ReceiptLinks struct {
	client *Client
	bucket string
	expiry time.Duration
}

// ReceiptLinksOption customises ReceiptLinks behaviour.
type ReceiptLinksOption func(*ReceiptLinks)

// WithReceiptURLExpiry overrides the default signed URL lifetime.
func WithReceiptURLExpiry(expiry time.Duration) ReceiptLinksOption {
	return func(l *ReceiptLinks) {
		if expiry > 0 {
			l.expiry = expiry
		}
	}
}

// NewReceiptLinks constructs a ReceiptLinks backed by the given signing client.
func NewReceiptLinks(client *Client, bucket string, opts ...ReceiptLinksOption) (*ReceiptLinks, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}

	links := &ReceiptLinks{
		client: client,
		bucket: bucket,
		expiry: defaultSignedURLExpiry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(links)
		}
	}
	return links, nil
}

// ReceiptDownloadURL signs a read-only URL for the receipt stored for the order.
func (l *ReceiptLinks) ReceiptDownloadURL(ctx context.Context, tenantID, orderID string) (string, time.Time, error) {
	if l == nil {
		return "", time.Time{}, errors.New("storage: receipt links not initialised")
	}

	object, err := BuildObjectPath(PurposeReceipt, PathParams{TenantID: tenantID, OrderID: orderID})
	if err != nil {
		return "", time.Time{}, err
	}

	result, err := l.client.SignedDownloadURL(ctx, l.bucket, object, DownloadOptions{
		ExpiresIn:    l.expiry,
		ResponseType: "application/json",
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return result.URL, result.ExpiresAt, nil
}
