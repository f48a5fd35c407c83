package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/payforge/api/internal/platform/firestore"
	"github.com/payforge/api/internal/repositories"
)

// Registry wires Firestore backed repositories behind the repositories.Registry
// contract. All repositories share one Provider and therefore one client.
type Registry struct {
	provider  *pfirestore.Provider
	checkouts *CheckoutRepository
	orders    *OrderRepository
	endpoints *WebhookEndpointRepository
	unit      *unitOfWork
}

// NewRegistry constructs the Firestore registry from a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	checkouts, err := NewCheckoutRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	endpoints, err := NewWebhookEndpointRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		checkouts: checkouts,
		orders:    orders,
		endpoints: endpoints,
		unit:      &unitOfWork{provider: provider},
	}, nil
}

func (r *Registry) Checkouts() repositories.CheckoutRepository { return r.checkouts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) WebhookEndpoints() repositories.WebhookEndpointRepository { return r.endpoints }

func (r *Registry) UnitOfWork() repositories.UnitOfWork { return r.unit }

// Close releases the underlying Firestore client.
func (r *Registry) Close() error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(context.Background())
}

var _ repositories.Registry = (*Registry)(nil)

type txContextKey struct{}

// unitOfWork runs the callback inside a Firestore transaction. The transaction
// handle travels in the context so repository mutations within the callback
// route through it instead of issuing standalone writes.
type unitOfWork struct {
	provider *pfirestore.Provider
}

func (u *unitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore unit of work not initialised")
	}
	if fn == nil {
		return nil
	}
	return u.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(txCtx, txContextKey{}, tx))
	})
}

var _ repositories.UnitOfWork = (*unitOfWork)(nil)

func transactionFrom(ctx context.Context) *firestore.Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

func txGet(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx := transactionFrom(ctx); tx != nil {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

func txCreate(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx := transactionFrom(ctx); tx != nil {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

func txSet(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx := transactionFrom(ctx); tx != nil {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

func txDelete(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx := transactionFrom(ctx); tx != nil {
		return tx.Delete(ref)
	}
	_, err := ref.Delete(ctx)
	return err
}
