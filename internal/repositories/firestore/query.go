package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	pfirestore "github.com/payforge/api/internal/platform/firestore"
)

// countDocuments counts matches with a keys-only query so list endpoints can
// report totals without decoding every document.
func countDocuments(ctx context.Context, provider *pfirestore.Provider, collection string, narrow pfirestore.QueryBuilder) (int, error) {
	client, err := provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(collection).Query
	if narrow != nil {
		query = narrow(query)
	}

	iter := query.Select().Documents(ctx)
	defer iter.Stop()

	count := 0
	for {
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return 0, pfirestore.WrapError(collection+".count", err)
		}
		count++
	}
	return count, nil
}
