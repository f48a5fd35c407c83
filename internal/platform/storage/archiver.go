package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"

	"github.com/payforge/api/internal/domain"
)

// ReceiptArchiver writes order receipt snapshots to a Cloud Storage bucket.
type ReceiptArchiver struct {
	client  *gcs.Client
	bucket  string
	marshal func(any) ([]byte, error)
}

// NewReceiptArchiver constructs a ReceiptArchiver backed by the provided client.
func NewReceiptArchiver(client *gcs.Client, bucket string) (*ReceiptArchiver, error) {
	if client == nil {
		return nil, errors.New("receipt archiver: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("receipt archiver: bucket is required")
	}
	return &ReceiptArchiver{
		client:  client,
		bucket:  bucket,
		marshal: json.Marshal,
	}, nil
}

type receiptDocument struct {
	OrderID    string            `json:"orderId"`
	TenantID   string            `json:"tenantId"`
	CheckoutID string            `json:"checkoutId"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"`
	LineItems  []domain.LineItem `json:"lineItems"`
	Totals     []domain.Total    `json:"totals"`
	Capture    receiptCapture    `json:"capture"`
	Buyer      *domain.Buyer     `json:"buyer,omitempty"`
	Shipping   *domain.Address   `json:"shippingAddress,omitempty"`
}

type receiptCapture struct {
	Handler       string `json:"handler,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// Archive serialises the order receipt and stores it under the receipts layout.
// The returned value is the gs:// location of the stored object.
func (a *ReceiptArchiver) Archive(ctx context.Context, order domain.Order) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("receipt archiver: not initialised")
	}

	object, err := BuildObjectPath(PurposeReceipt, PathParams{
		TenantID: order.TenantID,
		OrderID:  order.ID,
	})
	if err != nil {
		return "", err
	}

	doc := receiptDocument{
		OrderID:    order.ID,
		TenantID:   order.TenantID,
		CheckoutID: order.CheckoutID,
		Currency:   order.Currency,
		Status:     string(order.Status),
		LineItems:  order.LineItems,
		Totals:     order.Totals,
		Buyer:      order.Buyer,
		Shipping:   order.ShippingAddress,
		Capture: receiptCapture{
			Handler:       order.Capture.Handler,
			TransactionID: order.Capture.TransactionID,
		},
	}

	data, err := a.marshal(doc)
	if err != nil {
		return "", fmt.Errorf("receipt archiver: encode receipt: %w", err)
	}

	writer := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("receipt archiver: write receipt: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("receipt archiver: close receipt: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}
