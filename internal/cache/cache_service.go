// Package cache provides Redis-based caching for serving-path
// artefacts: per-version scaler blobs and recent prediction results,
// keyed so that repeated requests against a hot window skip
// re-running the cascade.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"fxreversal/config"
	"fxreversal/internal/circuit"
	"fxreversal/internal/obs"

	"github.com/redis/go-redis/v9"
)

// CacheService provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return errors that callers
// should handle by falling back to recomputing the value directly.
type CacheService struct {
	client  *redis.Client
	config  config.RedisConfig
	mu      sync.RWMutex
	breaker *circuit.Breaker

	lastCheck     time.Time
	checkInterval time.Duration
}

// Key prefixes for the serving-path cache.
const (
	PrefixPredictionResult = "fxreversal:predict:%s:%s" // version_id, window hash
	PrefixScalerBlob       = "fxreversal:scaler:%s"     // version_id
	PrefixVersionInfo      = "fxreversal:versions:info"
)

// Default TTLs
const (
	DefaultPredictionTTL = 5 * time.Minute
	DefaultScalerTTL     = 24 * time.Hour
)

// NewCacheService creates a new CacheService with the provided
// configuration. It attempts to connect to Redis and verifies
// connectivity, but degrades gracefully rather than failing startup.
func NewCacheService(cfg config.RedisConfig) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	breaker := circuit.New(circuit.DefaultConfig())
	cs := &CacheService{
		client:        client,
		config:        cfg,
		breaker:       breaker,
		checkInterval: 30 * time.Second,
	}
	breaker.OnTrip(func(reason string) {
		log.Printf("[CACHE] circuit breaker OPEN: %s", reason)
	})
	breaker.OnReset(func() {
		log.Printf("[CACHE] circuit breaker CLOSED: redis recovered")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("[CACHE] Initial Redis connection failed: %v", err)
		breaker.RecordFailure(err.Error())
		return cs, nil
	}

	breaker.RecordSuccess()
	cs.lastCheck = time.Now()
	log.Printf("[CACHE] Redis connected successfully at %s", cfg.Address)

	return cs, nil
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	return cs.breaker.IsHealthy()
}

func (cs *CacheService) recordFailure(reason string) {
	cs.breaker.RecordFailure(reason)
}

func (cs *CacheService) recordSuccess() {
	cs.breaker.RecordSuccess()
	cs.mu.Lock()
	cs.lastCheck = time.Now()
	cs.mu.Unlock()
}

func (cs *CacheService) checkHealth(ctx context.Context) {
	cs.mu.RLock()
	timeSinceCheck := time.Since(cs.lastCheck)
	shouldCheck := !cs.breaker.IsHealthy() && timeSinceCheck >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Get retrieves a raw value from cache.
func (cs *CacheService) Get(ctx context.Context, key string) (string, error) {
	cs.checkHealth(ctx)

	if !cs.IsHealthy() {
		obs.CacheHitTotal.WithLabelValues("unavailable").Inc()
		return "", fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	result, err := cs.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			obs.CacheHitTotal.WithLabelValues("miss").Inc()
			return "", err
		}
		cs.recordFailure(err.Error())
		obs.CacheHitTotal.WithLabelValues("unavailable").Inc()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	obs.CacheHitTotal.WithLabelValues("hit").Inc()
	return result, nil
}

// Set stores a value in cache with TTL.
func (cs *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	cs.checkHealth(ctx)

	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		jsonData, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		data = string(jsonData)
	}

	if err := cs.client.Set(ctx, key, data, ttl).Err(); err != nil {
		cs.recordFailure(err.Error())
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes a key from cache.
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	cs.checkHealth(ctx)

	if !cs.IsHealthy() {
		return fmt.Errorf("redis unavailable (circuit breaker open)")
	}

	if err := cs.client.Del(ctx, key).Err(); err != nil {
		cs.recordFailure(err.Error())
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value from cache.
func (cs *CacheService) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := cs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON marshals and stores a JSON value in cache.
func (cs *CacheService) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cs.Set(ctx, key, value, ttl)
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure(err.Error())
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

func (cs *CacheService) GetStats() Stats {
	return Stats{
		Healthy:      cs.breaker.IsHealthy(),
		FailureCount: cs.breaker.FailureCount(),
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
	}
}

// PredictionResultKey generates a cache key for a memoized prediction,
// keyed by model version and a caller-supplied window hash.
func PredictionResultKey(versionID, windowHash string) string {
	return fmt.Sprintf(PrefixPredictionResult, versionID, windowHash)
}

// ScalerBlobKey generates a cache key for a version's serialized scaler.
func ScalerBlobKey(versionID string) string {
	return fmt.Sprintf(PrefixScalerBlob, versionID)
}
