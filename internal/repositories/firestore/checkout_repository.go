package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/payforge/api/internal/domain"
	pfirestore "github.com/payforge/api/internal/platform/firestore"
	"github.com/payforge/api/internal/repositories"
)

const checkoutCollection = "checkout_sessions"

// openCheckoutStatuses are the states a session can still expire from.
var openCheckoutStatuses = []string{
	string(domain.CheckoutStatusIncomplete),
	string(domain.CheckoutStatusRequiresEscalation),
	string(domain.CheckoutStatusReadyForComplete),
	string(domain.CheckoutStatusCompleteInProgress),
}

// CheckoutRepository persists checkout sessions in a single Firestore
// collection. Documents are keyed by session ID with the tenant stored as a
// field; reads verify the tenant and report a mismatch as not found.
type CheckoutRepository struct {
	base     *pfirestore.Collection[checkoutDocument]
	provider *pfirestore.Provider
}

// NewCheckoutRepository constructs a Firestore-backed checkout repository.
func NewCheckoutRepository(provider *pfirestore.Provider) (*CheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout repository requires firestore provider")
	}
	return &CheckoutRepository{
		base:     pfirestore.NewCollection[checkoutDocument](provider, checkoutCollection),
		provider: provider,
	}, nil
}

func (r *CheckoutRepository) Insert(ctx context.Context, session domain.CheckoutSession) error {
	if r == nil || r.base == nil {
		return errors.New("checkout repository not initialised")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("checkout repository: session id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, ref, encodeCheckout(session)); err != nil {
		return pfirestore.WrapError("checkout_sessions.create", err)
	}
	return nil
}

func (r *CheckoutRepository) Update(ctx context.Context, session domain.CheckoutSession) error {
	if r == nil || r.base == nil {
		return errors.New("checkout repository not initialised")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("checkout repository: session id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	if transactionFrom(ctx) == nil {
		// Standalone updates must not resurrect deleted documents.
		snapshot, err := txGet(ctx, ref)
		if err != nil {
			return pfirestore.WrapError("checkout_sessions.update", err)
		}
		if tenant, _ := snapshot.DataAt("tenantId"); tenant != session.TenantID {
			return notFoundError("checkout_sessions.update", "checkout session not found")
		}
	}
	if err := txSet(ctx, ref, encodeCheckout(session)); err != nil {
		return pfirestore.WrapError("checkout_sessions.update", err)
	}
	return nil
}

func (r *CheckoutRepository) FindByID(ctx context.Context, tenantID, id string) (domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return domain.CheckoutSession{}, errors.New("checkout repository not initialised")
	}
	ref, err := r.base.Doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	snapshot, err := txGet(ctx, ref)
	if err != nil {
		return domain.CheckoutSession{}, pfirestore.WrapError("checkout_sessions.get", err)
	}
	var doc checkoutDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.CheckoutSession{}, pfirestore.WrapError("checkout_sessions.decode", err)
	}
	if doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.CheckoutSession{}, notFoundError("checkout_sessions.get", "checkout session not found")
	}
	return decodeCheckout(snapshot.Ref.ID, doc), nil
}

func (r *CheckoutRepository) List(ctx context.Context, filter repositories.CheckoutListFilter) (domain.Page[domain.CheckoutSession], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.CheckoutSession]{}, errors.New("checkout repository not initialised")
	}

	narrow := func(query firestore.Query) firestore.Query {
		query = query.Where("tenantId", "==", strings.TrimSpace(filter.TenantID))
		if filter.Status != "" {
			query = query.Where("status", "==", string(filter.Status))
		}
		return query
	}

	total, err := r.countDocuments(ctx, narrow)
	if err != nil {
		return domain.Page[domain.CheckoutSession]{}, err
	}

	docs, err := r.base.Docs(ctx, func(query firestore.Query) firestore.Query {
		query = narrow(query).OrderBy("createdAt", firestore.Desc)
		if filter.Page.Offset > 0 {
			query = query.Offset(filter.Page.Offset)
		}
		if filter.Page.Limit > 0 {
			query = query.Limit(filter.Page.Limit)
		}
		return query
	})
	if err != nil {
		return domain.Page[domain.CheckoutSession]{}, err
	}

	page := domain.Page[domain.CheckoutSession]{TotalCount: total}
	for _, doc := range docs {
		page.Items = append(page.Items, decodeCheckout(doc.ID, doc.Data))
	}
	return page, nil
}

func (r *CheckoutRepository) ListExpired(ctx context.Context, tenantID string, limit int) ([]domain.CheckoutSession, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("checkout repository not initialised")
	}
	now := time.Now().UTC()

	docs, err := r.base.Docs(ctx, func(query firestore.Query) firestore.Query {
		if tenant := strings.TrimSpace(tenantID); tenant != "" {
			query = query.Where("tenantId", "==", tenant)
		}
		query = query.
			Where("status", "in", openCheckoutStatuses).
			Where("expiresAt", "<=", now).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			query = query.Limit(limit)
		}
		return query
	})
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.CheckoutSession, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, decodeCheckout(doc.ID, doc.Data))
	}
	return sessions, nil
}

func (r *CheckoutRepository) countDocuments(ctx context.Context, narrow pfirestore.QueryBuilder) (int, error) {
	return countDocuments(ctx, r.provider, checkoutCollection, narrow)
}

var _ repositories.CheckoutRepository = (*CheckoutRepository)(nil)

// notFoundError synthesizes a repository not-found error for documents that
// exist under a different tenant.
func notFoundError(op, message string) error {
	return pfirestore.WrapError(op, status.Error(codes.NotFound, message))
}
