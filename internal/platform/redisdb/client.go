package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// New returns a verified redis client. addr may be empty, in which case the
// caller must tolerate a nil client (guardian cache and rate limiting both
// degrade to in-process behavior).
func New(log *logger.Logger, addr string) (*redis.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("redisdb: logger required")
	}
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisdb: ping: %w", err)
	}
	log.Info("redis connected", "addr", addr)
	return client, nil
}
