package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/payforge/api/internal/repositories"
)

const webhookEndpointIDPrefix = "whep_"

var (
	// ErrWebhookInvalidInput signals the caller provided invalid data.
	ErrWebhookInvalidInput = errors.New("webhook: invalid input")
	// ErrWebhookEndpointNotFound indicates the endpoint could not be located.
	ErrWebhookEndpointNotFound = errors.New("webhook: endpoint not found")
	// ErrWebhookConflict indicates optimistic concurrency conflicts or duplicates.
	ErrWebhookConflict = errors.New("webhook: conflict")
)

// WebhookServiceDeps bundles collaborators required to construct the webhook service.
type WebhookServiceDeps struct {
	Endpoints   repositories.WebhookEndpointRepository
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	endpoints repositories.WebhookEndpointRepository
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewWebhookService wires dependencies into a concrete WebhookService implementation.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Endpoints == nil {
		return nil, errors.New("webhook service: endpoint repository is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &webhookService{
		endpoints: deps.Endpoints,
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *webhookService) Register(ctx context.Context, cmd RegisterEndpointCommand) (WebhookEndpoint, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return WebhookEndpoint{}, fmt.Errorf("%w: tenant id is required", ErrWebhookInvalidInput)
	}
	endpointURL, err := normalizeEndpointURL(cmd.URL)
	if err != nil {
		return WebhookEndpoint{}, err
	}
	if len(cmd.Events) == 0 {
		return WebhookEndpoint{}, fmt.Errorf("%w: at least one event subscription is required", ErrWebhookInvalidInput)
	}

	endpoint := WebhookEndpoint{
		ID:       webhookEndpointIDPrefix + s.newID(),
		TenantID: tenantID,
		URL:      endpointURL,
		Events:   normalizeEventNames(cmd.Events),
		Active:   true,
	}

	if err := s.endpoints.Insert(ctx, endpoint); err != nil {
		return WebhookEndpoint{}, s.mapRepositoryError(err)
	}
	return endpoint, nil
}

func (s *webhookService) Update(ctx context.Context, cmd UpdateEndpointCommand) (WebhookEndpoint, error) {
	endpoint, err := s.Get(ctx, cmd.TenantID, cmd.EndpointID)
	if err != nil {
		return WebhookEndpoint{}, err
	}

	if cmd.URL != nil {
		endpointURL, err := normalizeEndpointURL(*cmd.URL)
		if err != nil {
			return WebhookEndpoint{}, err
		}
		endpoint.URL = endpointURL
	}
	if cmd.Events != nil {
		if len(*cmd.Events) == 0 {
			return WebhookEndpoint{}, fmt.Errorf("%w: at least one event subscription is required", ErrWebhookInvalidInput)
		}
		endpoint.Events = normalizeEventNames(*cmd.Events)
	}
	if cmd.Active != nil {
		endpoint.Active = *cmd.Active
	}

	if err := s.endpoints.Update(ctx, endpoint); err != nil {
		return WebhookEndpoint{}, s.mapRepositoryError(err)
	}
	return endpoint, nil
}

func (s *webhookService) Deactivate(ctx context.Context, tenantID, endpointID string) (WebhookEndpoint, error) {
	endpoint, err := s.Get(ctx, tenantID, endpointID)
	if err != nil {
		return WebhookEndpoint{}, err
	}

	endpoint.Active = false
	if err := s.endpoints.Update(ctx, endpoint); err != nil {
		return WebhookEndpoint{}, s.mapRepositoryError(err)
	}
	return endpoint, nil
}

func (s *webhookService) Get(ctx context.Context, tenantID, endpointID string) (WebhookEndpoint, error) {
	tenantID = strings.TrimSpace(tenantID)
	endpointID = strings.TrimSpace(endpointID)
	if tenantID == "" || endpointID == "" {
		return WebhookEndpoint{}, fmt.Errorf("%w: tenant id and endpoint id are required", ErrWebhookInvalidInput)
	}

	endpoint, err := s.endpoints.FindByID(ctx, tenantID, endpointID)
	if err != nil {
		return WebhookEndpoint{}, s.mapRepositoryError(err)
	}
	return endpoint, nil
}

// ListActive returns only endpoints eligible for notification delivery.
func (s *webhookService) ListActive(ctx context.Context, tenantID string) ([]WebhookEndpoint, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrWebhookInvalidInput)
	}

	endpoints, err := s.endpoints.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	active := make([]WebhookEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Active {
			active = append(active, endpoint)
		}
	}
	return active, nil
}

func (s *webhookService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrWebhookEndpointNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrWebhookConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("webhook: repository unavailable: %w", err)
		}
	}

	return err
}

func normalizeEndpointURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrWebhookInvalidInput)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: url must be an absolute http(s) url", ErrWebhookInvalidInput)
	}
	return parsed.String(), nil
}

func normalizeEventNames(events []string) []string {
	normalized := make([]string, 0, len(events))
	seen := map[string]bool{}
	for _, event := range events {
		name := strings.ToLower(strings.TrimSpace(event))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		normalized = append(normalized, name)
	}
	return normalized
}
