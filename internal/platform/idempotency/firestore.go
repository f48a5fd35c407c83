package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection      = "idempotency_entries"
	defaultTxAttempts      = 5
	defaultCleanupPageSize = 100
)

// FirestoreStore implements Store on a Firestore collection. Keys are hashed
// into document IDs; claims are serialised through transactions.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency entries.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithTransactionAttempts sets the transaction retry budget.
func WithTransactionAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		attempts:   defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type entryDoc struct {
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	StatusCode  int                 `firestore:"status_code"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d entryDoc) outcome() Outcome {
	if !d.Done {
		return Outcome{Kind: OutcomeInFlight}
	}
	return Outcome{Kind: OutcomeReplay, Response: StoredResponse{
		StatusCode: d.StatusCode,
		Header:     http.Header(d.Header),
		Body:       d.Body,
	}}
}

func (s *FirestoreStore) Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))

	var result Outcome
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		claim := func() error {
			result = Outcome{Kind: OutcomeFirst}
			return tx.Set(ref, entryDoc{
				Fingerprint: fingerprint,
				CreatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			})
		}

		if err != nil {
			return claim()
		}

		var doc entryDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if !doc.ExpiresAt.IsZero() && !now.Before(doc.ExpiresAt) {
			return claim()
		}
		if doc.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		result = doc.outcome()
		return nil
	}, firestore.MaxAttempts(s.attempts))

	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.client.Collection(s.collection).Doc(docID(key))
	header := storableHeader(resp.Header)
	body := copyBody(resp.Body)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		createdAt := now
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
		} else {
			var doc entryDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			if !doc.CreatedAt.IsZero() {
				createdAt = doc.CreatedAt
			}
		}

		return tx.Set(ref, entryDoc{
			Fingerprint: fingerprint,
			Done:        true,
			StatusCode:  resp.StatusCode,
			Header:      header,
			Body:        body,
			CreatedAt:   createdAt,
			ExpiresAt:   now.Add(ttl),
		})
	}, firestore.MaxAttempts(s.attempts))
}

// Abandon frees the claim so a retry can reprocess the key.
func (s *FirestoreStore) Abandon(ctx context.Context, key, _ string) error {
	_, err := s.client.Collection(s.collection).Doc(docID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = defaultCleanupPageSize
	}

	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx)
	docs, err := iter.GetAll()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
