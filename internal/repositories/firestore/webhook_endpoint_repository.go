package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/payforge/api/internal/domain"
	pfirestore "github.com/payforge/api/internal/platform/firestore"
	"github.com/payforge/api/internal/repositories"
)

const webhookEndpointCollection = "webhook_endpoints"

// WebhookEndpointRepository persists webhook subscriptions in Firestore.
type WebhookEndpointRepository struct {
	base     *pfirestore.Collection[webhookEndpointDocument]
	provider *pfirestore.Provider
}

// NewWebhookEndpointRepository constructs a Firestore-backed endpoint repository.
func NewWebhookEndpointRepository(provider *pfirestore.Provider) (*WebhookEndpointRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook endpoint repository requires firestore provider")
	}
	return &WebhookEndpointRepository{
		base:     pfirestore.NewCollection[webhookEndpointDocument](provider, webhookEndpointCollection),
		provider: provider,
	}, nil
}

func (r *WebhookEndpointRepository) Insert(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	if r == nil || r.base == nil {
		return errors.New("webhook endpoint repository not initialised")
	}
	id := strings.TrimSpace(endpoint.ID)
	if id == "" {
		return errors.New("webhook endpoint repository: endpoint id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	doc := encodeEndpoint(endpoint)
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if err := txCreate(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("webhook_endpoints.create", err)
	}
	return nil
}

func (r *WebhookEndpointRepository) Update(ctx context.Context, endpoint domain.WebhookEndpoint) error {
	if r == nil || r.base == nil {
		return errors.New("webhook endpoint repository not initialised")
	}
	id := strings.TrimSpace(endpoint.ID)
	if id == "" {
		return errors.New("webhook endpoint repository: endpoint id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	snapshot, err := txGet(ctx, ref)
	if err != nil {
		return pfirestore.WrapError("webhook_endpoints.update", err)
	}
	var existing webhookEndpointDocument
	if err := snapshot.DataTo(&existing); err != nil {
		return pfirestore.WrapError("webhook_endpoints.decode", err)
	}
	if existing.TenantID != endpoint.TenantID {
		return notFoundError("webhook_endpoints.update", "webhook endpoint not found")
	}
	doc := encodeEndpoint(endpoint)
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = time.Now().UTC()
	if err := txSet(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("webhook_endpoints.update", err)
	}
	return nil
}

func (r *WebhookEndpointRepository) Delete(ctx context.Context, tenantID, id string) error {
	if r == nil || r.base == nil {
		return errors.New("webhook endpoint repository not initialised")
	}
	ref, err := r.base.Doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	snapshot, err := txGet(ctx, ref)
	if err != nil {
		return pfirestore.WrapError("webhook_endpoints.delete", err)
	}
	if tenant, _ := snapshot.DataAt("tenantId"); tenant != strings.TrimSpace(tenantID) {
		return notFoundError("webhook_endpoints.delete", "webhook endpoint not found")
	}
	if err := txDelete(ctx, ref); err != nil {
		return pfirestore.WrapError("webhook_endpoints.delete", err)
	}
	return nil
}

func (r *WebhookEndpointRepository) FindByID(ctx context.Context, tenantID, id string) (domain.WebhookEndpoint, error) {
	if r == nil || r.base == nil {
		return domain.WebhookEndpoint{}, errors.New("webhook endpoint repository not initialised")
	}
	ref, err := r.base.Doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.WebhookEndpoint{}, err
	}
	snapshot, err := txGet(ctx, ref)
	if err != nil {
		return domain.WebhookEndpoint{}, pfirestore.WrapError("webhook_endpoints.get", err)
	}
	var doc webhookEndpointDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.WebhookEndpoint{}, pfirestore.WrapError("webhook_endpoints.decode", err)
	}
	if doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.WebhookEndpoint{}, notFoundError("webhook_endpoints.get", "webhook endpoint not found")
	}
	return decodeEndpoint(snapshot.Ref.ID, doc), nil
}

func (r *WebhookEndpointRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("webhook endpoint repository not initialised")
	}
	docs, err := r.base.Docs(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("tenantId", "==", strings.TrimSpace(tenantID)).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	endpoints := make([]domain.WebhookEndpoint, 0, len(docs))
	for _, doc := range docs {
		endpoints = append(endpoints, decodeEndpoint(doc.ID, doc.Data))
	}
	return endpoints, nil
}

func encodeEndpoint(endpoint domain.WebhookEndpoint) webhookEndpointDocument {
	events := make([]string, 0, len(endpoint.Events))
	for _, event := range endpoint.Events {
		if trimmed := strings.TrimSpace(event); trimmed != "" {
			events = append(events, trimmed)
		}
	}
	return webhookEndpointDocument{
		TenantID: strings.TrimSpace(endpoint.TenantID),
		URL:      strings.TrimSpace(endpoint.URL),
		Events:   events,
		Active:   endpoint.Active,
	}
}

func decodeEndpoint(id string, doc webhookEndpointDocument) domain.WebhookEndpoint {
	return domain.WebhookEndpoint{
		ID:       id,
		TenantID: doc.TenantID,
		URL:      doc.URL,
		Events:   doc.Events,
		Active:   doc.Active,
	}
}

var _ repositories.WebhookEndpointRepository = (*WebhookEndpointRepository)(nil)
