package middleware

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyHeader is the primary header carrying the API key.
	APIKeyHeader = "X-Api-Key"

	bcryptCost  = 10
	bcryptLimit = 72
)

var (
	// ErrMissingAPIKey is returned when no API key is provided in headers.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned when the presented key does not match the configured hash.
	ErrInvalidAPIKey = errors.New("invalid API key")

	// ErrEmptyAPIKey is returned when hashing an empty key.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")

	// ErrInvalidAPIKeyHash is returned when the configured hash is not a bcrypt hash.
	ErrInvalidAPIKeyHash = errors.New("API key hash is not a valid bcrypt hash")
)

// APIKeyAuth checks requests against one bcrypt-hashed API key.
type APIKeyAuth struct {
	hash []byte
}

// NewAPIKeyAuth returns an authenticator for the bcrypt hash produced by HashAPIKey.
func NewAPIKeyAuth(hash string) (*APIKeyAuth, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAPIKeyHash, err)
	}

	return &APIKeyAuth{hash: []byte(hash)}, nil
}

// HashAPIKey returns the bcrypt hash to configure for key.
//
// bcrypt reads at most 72 bytes, so longer keys are pre-hashed with SHA-256.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyAPIKey
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether key matches the configured hash. The comparison is constant time.
func (a *APIKeyAuth) Verify(key string) bool {
	if key == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword(a.hash, bcryptInput(key)) == nil
}

func bcryptInput(key string) []byte {
	if len(key) <= bcryptLimit {
		return []byte(key)
	}

	sum := sha256.Sum256([]byte(key))

	return sum[:]
}

// extractAPIKey reads the key from X-Api-Key, falling back to an Authorization bearer token.
// Values containing line breaks are rejected.
func extractAPIKey(r *http.Request) (string, bool) {
	value := r.Header.Get(APIKeyHeader)
	if value == "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			return "", false
		}

		value = token
	}

	if strings.ContainsAny(value, "\r\n") {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

// Authenticate creates a middleware rejecting requests without a valid API key with 401.
func Authenticate(auth *APIKeyAuth, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, found := extractAPIKey(r)

			var err error

			switch {
			case !found:
				err = ErrMissingAPIKey
			case !auth.Verify(key):
				err = ErrInvalidAPIKey
			default:
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			logger.Warn("Authentication failed",
				slog.String("reason", err.Error()),
				slog.String("correlation_id", correlationID),
				slog.String("path", r.URL.Path),
				slog.String("client", ClientID(r)),
			)

			if writeErr := writeProblem(w, r, http.StatusUnauthorized, err.Error()); writeErr != nil {
				logger.Error("Failed to encode authentication error response",
					slog.String("correlation_id", correlationID),
					slog.Any("error", writeErr),
				)
			}
		})
	}
}
