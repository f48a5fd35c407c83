package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed entry remains replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused with a different request payload.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// OutcomeKind classifies what Begin found for a key.
type OutcomeKind int

const (
	// OutcomeFirst means the key was unseen and the caller owns processing.
	OutcomeFirst OutcomeKind = iota
	// OutcomeReplay means a completed response exists and should be returned verbatim.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key and has not finished.
	OutcomeInFlight
)

// Outcome reports the result of Begin, carrying the stored response on replay.
type Outcome struct {
	Kind     OutcomeKind
	Response StoredResponse
}

// StoredResponse is the replayable portion of a completed request.
type StoredResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Entry is the persisted state for one idempotency key.
type Entry struct {
	Fingerprint string
	Done        bool
	Response    StoredResponse
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store persists idempotency entries. Begin claims a key, Complete records the
// response for replay, Abandon frees a claimed key after a failure.
type Store interface {
	Begin(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, error)
	Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func docID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// hopHeaders never get stored; they describe the connection, not the response.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func storableHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	out := make(http.Header, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, drop := hopHeaders[canonical]; drop {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func copyBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	return append([]byte(nil), body...)
}
