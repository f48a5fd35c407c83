package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/payforge/api/internal/domain"
	pfirestore "github.com/payforge/api/internal/platform/firestore"
	"github.com/payforge/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore. Expectations,
// fulfillment events, and adjustments live inside the order document so every
// mutation replaces the aggregate atomically.
type OrderRepository struct {
	base     *pfirestore.Collection[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewCollection[orderDocument](provider, orderCollection),
		provider: provider,
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	if err := txCreate(ctx, ref, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return err
	}
	if transactionFrom(ctx) == nil {
		snapshot, err := txGet(ctx, ref)
		if err != nil {
			return pfirestore.WrapError("orders.update", err)
		}
		if tenant, _ := snapshot.DataAt("tenantId"); tenant != order.TenantID {
			return notFoundError("orders.update", "order not found")
		}
	}
	if err := txSet(ctx, ref, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, tenantID, id string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref, err := r.base.Doc(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	snapshot, err := txGet(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	if doc.TenantID != strings.TrimSpace(tenantID) {
		return domain.Order{}, notFoundError("orders.get", "order not found")
	}
	return decodeOrder(snapshot.Ref.ID, doc), nil
}

func (r *OrderRepository) FindByCheckoutID(ctx context.Context, tenantID, checkoutID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	docs, err := r.base.Docs(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("tenantId", "==", strings.TrimSpace(tenantID)).
			Where("checkoutId", "==", strings.TrimSpace(checkoutID)).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, notFoundError("orders.query", "order not found for checkout")
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	narrow := func(query firestore.Query) firestore.Query {
		query = query.Where("tenantId", "==", strings.TrimSpace(filter.TenantID))
		if filter.Status != "" {
			query = query.Where("status", "==", string(filter.Status))
		}
		return query
	}

	total, err := countDocuments(ctx, r.provider, orderCollection, narrow)
	if err != nil {
		return domain.Page[domain.Order]{}, err
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
		return domain.Page[domain.Order]{}, err
	}

	page := domain.Page[domain.Order]{TotalCount: total}
	for _, doc := range docs {
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
