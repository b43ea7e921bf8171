// File: utils/cache.go
package utils

import (
	"context"
	"log"
	"os"
	"time"

	"consulta/config"

	"github.com/go-redis/redis/v8"
)

var (
	// CacheClient backs short-lived booking-session and generic caching.
	CacheClient *redis.Client
	// LockClient backs the advisory locks used around overlap checks.
	LockClient *redis.Client
	// IdempotencyClient backs the webhook/cron dedupe ledger.
	IdempotencyClient *redis.Client
)

func newClient(db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("failed to connect to Redis (db %d): %v", db, err)
		os.Exit(2)
	}
	return client
}

// GetCacheClient returns the generic cache client (booking sessions, etc).
func GetCacheClient() *redis.Client {
	if CacheClient == nil {
		CacheClient = newClient(config.AppConfig.RedisCacheDB)
	}
	return CacheClient
}

// GetLockClient returns the client backing advisory locks.
func GetLockClient() *redis.Client {
	if LockClient == nil {
		LockClient = newClient(config.AppConfig.RedisLockDB)
	}
	return LockClient
}

// GetIdempotencyClient returns the client backing the dedupe ledger.
func GetIdempotencyClient() *redis.Client {
	if IdempotencyClient == nil {
		IdempotencyClient = newClient(config.AppConfig.RedisIdempotencyDB)
	}
	return IdempotencyClient
}
