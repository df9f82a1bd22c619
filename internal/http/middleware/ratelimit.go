package middleware

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/seatutor/mariner-backend/internal/platform/ctxutil"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// RateLimiter enforces fixed-window request budgets per API key and per
// user. Counters live in redis so limits hold across replicas; without
// redis it degrades to an in-process window.
type RateLimiter struct {
	log          *logger.Logger
	redis        *redis.Client
	apiPerMin    int
	chatPerMin   int
	mu           sync.Mutex
	localWindows map[string]*localWindow
}

type localWindow struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(log *logger.Logger, rdb *redis.Client, apiPerMin, chatPerMin int) *RateLimiter {
	if apiPerMin <= 0 {
		apiPerMin = 100
	}
	if chatPerMin <= 0 {
		chatPerMin = 30
	}
	return &RateLimiter{
		log:          log.With("middleware", "RateLimiter"),
		redis:        rdb,
		apiPerMin:    apiPerMin,
		chatPerMin:   chatPerMin,
		localWindows: make(map[string]*localWindow),
	}
}

// LimitAPI applies the per-key budget to every API route.
func (rl *RateLimiter) LimitAPI() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "rl:api:" + hashedKey(c.GetHeader("X-API-Key"))
		rl.enforce(c, key, rl.apiPerMin)
	}
}

// LimitChat applies the tighter per-user budget to chat routes.
func (rl *RateLimiter) LimitChat() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := ""
		if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
			user = rd.UserID
		}
		if user == "" {
			user = c.ClientIP()
		}
		rl.enforce(c, "rl:chat:"+user, rl.chatPerMin)
	}
}

func (rl *RateLimiter) enforce(c *gin.Context, key string, limit int) {
	count, ttl, err := rl.incr(c, key)
	if err != nil {
		// limiter failure must not take the API down
		rl.log.Warn("rate limiter unavailable, allowing request", "error", err.Error())
		c.Next()
		return
	}
	if count > limit {
		retryAfter := int(ttl.Seconds())
		if retryAfter <= 0 {
			retryAfter = 60
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       gin.H{"message": "rate limit exceeded", "code": "rate_limited"},
			"retry_after": retryAfter,
		})
		return
	}
	c.Next()
}

func (rl *RateLimiter) incr(c *gin.Context, key string) (int, time.Duration, error) {
	if rl.redis != nil {
		ctx := c.Request.Context()
		count, err := rl.redis.Incr(ctx, key).Result()
		if err != nil {
			return 0, 0, err
		}
		if count == 1 {
			rl.redis.Expire(ctx, key, time.Minute)
		}
		ttl, _ := rl.redis.TTL(ctx, key).Result()
		return int(count), ttl, nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	w := rl.localWindows[key]
	if w == nil || now.After(w.resetAt) {
		w = &localWindow{resetAt: now.Add(time.Minute)}
		rl.localWindows[key] = w
	}
	w.count++
	return w.count, time.Until(w.resetAt), nil
}

// hashedKey keeps raw API keys out of redis keyspace listings.
func hashedKey(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.TrimSpace(key)))
	return fmt.Sprintf("%x", h.Sum64())
}
