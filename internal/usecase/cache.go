package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/kyc-facematch/internal/logging"
	"github.com/example/kyc-facematch/internal/repository"
	"github.com/example/kyc-facematch/internal/retry"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get returns redis.Nil when key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// errCacheMiss means the cache holds nothing for the request.
var errCacheMiss = errors.New("cache miss")

const processingMarker = "processing"

// cachedVerification is the JSON stored under verification:<request id>.
type cachedVerification struct {
	RequestID      string    `json:"request_id"`
	UserID         string    `json:"user_id"`
	Matched        bool      `json:"matched"`
	Stage          string    `json:"stage"`
	Message        string    `json:"message"`
	Confidence     *float64  `json:"confidence,omitempty"`
	Distance       *float64  `json:"distance,omitempty"`
	SpoofSuspected bool      `json:"spoof_suspected"`
	IDImageSHA1    string    `json:"id_image_sha1"`
	CreatedAt      time.Time `json:"created_at"`
}

// resultCache stores verification results for fast lookup by request id.
type resultCache struct {
	store  Cache
	ttl    time.Duration
	retry  retry.Policy
	logger *zap.Logger
}

func cacheKey(requestID string) string {
	return fmt.Sprintf("verification:%s", requestID)
}

func (c *resultCache) markProcessing(ctx context.Context, requestID string) error {
	return retry.Do(ctx, c.logger, c.retry, "cache.set.processing", requestID, func() error {
		return c.store.Set(ctx, cacheKey(requestID), processingMarker, time.Minute)
	})
}

func (c *resultCache) put(ctx context.Context, log *repository.VerificationLog) error {
	serialized, err := json.Marshal(cachedVerification{
		RequestID:      log.RequestID,
		UserID:         log.UserID,
		Matched:        log.Matched,
		Stage:          log.Stage,
		Message:        log.Message,
		Confidence:     log.Confidence,
		Distance:       log.Distance,
		SpoofSuspected: log.SpoofSuspected,
		IDImageSHA1:    log.IDImageSHA1,
		CreatedAt:      log.CreatedAt,
	})
	if err != nil {
		return logging.NewOperationError("cache.set.result", log.RequestID, err)
	}
	return retry.Do(ctx, c.logger, c.retry, "cache.set.result", log.RequestID, func() error {
		return c.store.Set(ctx, cacheKey(log.RequestID), string(serialized), c.ttl)
	})
}

// get returns ErrProcessing while the request is still being evaluated and
// errCacheMiss when nothing usable is cached.
func (c *resultCache) get(ctx context.Context, requestID string) (*repository.VerificationLog, error) {
	var raw string
	err := retry.Do(ctx, c.logger, c.retry, "cache.get.result", requestID, func() error {
		value, err := c.store.Get(ctx, cacheKey(requestID))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	if err != nil {
		logging.WithOperation(c.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
		return nil, errCacheMiss
	}
	if raw == processingMarker {
		return nil, ErrProcessing
	}

	var payload cachedVerification
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		logging.WithOperation(c.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, errCacheMiss
	}
	return &repository.VerificationLog{
		RequestID:      payload.RequestID,
		UserID:         payload.UserID,
		Matched:        payload.Matched,
		Stage:          payload.Stage,
		Message:        payload.Message,
		Confidence:     payload.Confidence,
		Distance:       payload.Distance,
		SpoofSuspected: payload.SpoofSuspected,
		IDImageSHA1:    payload.IDImageSHA1,
		CreatedAt:      payload.CreatedAt,
	}, nil
}
