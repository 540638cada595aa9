package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-transcription-service/internal/datastore"
)

// ErrNoAPIKey is returned when no credential candidate was supplied at all.
var ErrNoAPIKey = errors.New("API key required. Provide it in X-API-Key header, Authorization header, or request body")

// ErrInvalidAPIKey is returned for unknown and deactivated keys alike, so the
// error surface does not leak whether a key exists.
var ErrInvalidAPIKey = errors.New("invalid or inactive API key")

// KeyStore is the slice of the datastore the authenticator depends on.
type KeyStore interface {
	FindActiveAPIKey(ctx context.Context, key string) (*datastore.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
}

// Credentials holds the candidate API key strings extracted from a request.
// Resolution order is fixed: dedicated header, then bearer token, then body.
type Credentials struct {
	Header string
	Bearer string
	Body   string
}

// FirstNonEmpty returns the winning candidate, or "" when none was supplied.
func (c Credentials) FirstNonEmpty() string {
	for _, candidate := range []string{c.Header, c.Bearer, c.Body} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// ParseBearer extracts the token from a Bearer-scheme Authorization header
// value. It returns "" for any other scheme or a malformed value.
func ParseBearer(authorization string) string {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || !strings.EqualFold(authorization[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authorization[len(prefix):])
}

// Authenticator validates caller credentials against the API key store.
type Authenticator struct {
	store  KeyStore
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator backed by the given store.
func NewAuthenticator(store KeyStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{store: store, logger: logger}
}

// Authenticate resolves the credential candidates and validates the winner
// against the store. On success it refreshes the key's last_used timestamp;
// that write is best-effort and never fails the authentication.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*datastore.APIKey, error) {
	key := creds.FirstNonEmpty()
	if key == "" {
		return nil, ErrNoAPIKey
	}

	record, err := a.store.FindActiveAPIKey(ctx, key)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}

	if err := a.store.TouchAPIKeyLastUsed(ctx, record.ID); err != nil {
		a.logger.Warn("failed to update api key last_used",
			slog.String("key_id", record.ID),
			slog.String("error", err.Error()),
		)
	}

	return record, nil
}
