package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrKeyNotFound = errors.New("api key not found")
	ErrKeyExists   = errors.New("api key already exists")
)

const notAuthorized = "Not Authorized"

type APIKey struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	KeyHash   string    `json:"key_hash"`
	RateLimit int64     `json:"rate_limit"` // max tokens per minute, 0 = default
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const apiKeyKey contextKey = "api_key"

func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// ExtractKey reads a bearer token from the Authorization header.
func ExtractKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// NewMiddleware rejects requests without a valid API key. cache may be nil.
func NewMiddleware(store Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := ExtractKey(r)
			if key == "" {
				http.Error(w, notAuthorized, http.StatusUnauthorized)
				return
			}

			redisKey := fmt.Sprintf("auth:%s", HashKey(key))

			if cache != nil {
				var apiKey APIKey
				err := cache.Get(ctx, redisKey).Scan(&apiKey)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(WithAPIKey(ctx, &apiKey)))
					return
				} else if err != redis.Nil {
					logrus.WithError(err).Warn("auth: redis error")
				}
			}

			apiK, err := store.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					http.Error(w, notAuthorized, http.StatusUnauthorized)
					return
				}
				logrus.WithError(err).Error("auth: key lookup failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			if cache != nil {
				_ = cache.Set(ctx, redisKey, apiK, 5*time.Minute).Err()
			}

			next.ServeHTTP(w, r.WithContext(WithAPIKey(ctx, apiK)))
		})
	}
}

// GetAPIKey returns the authenticated key, or nil.
func GetAPIKey(ctx context.Context) *APIKey {
	if k, ok := ctx.Value(apiKeyKey).(*APIKey); ok {
		return k
	}
	return nil
}

func GetKeyID(ctx context.Context) string {
	if k := GetAPIKey(ctx); k != nil {
		return k.ID
	}
	return ""
}

func WithAPIKey(ctx context.Context, k *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, k)
}
