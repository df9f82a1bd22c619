package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
	"github.com/seatutor/mariner-backend/internal/platform/neo4jdb"
)

type HealthHandler struct {
	log   *logger.Logger
	db    *gorm.DB
	redis *redis.Client
	graph *neo4jdb.Client
}

func NewHealthHandler(log *logger.Logger, db *gorm.DB, rdb *redis.Client, graph *neo4jdb.Client) *HealthHandler {
	return &HealthHandler{log: log.With("handler", "HealthHandler"), db: db, redis: rdb, graph: graph}
}

// Health handles GET /api/v1/health: liveness only, no backend calls.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthDB handles GET /api/v1/health/db: touches each backing store.
func (h *HealthHandler) HealthDB(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	start := time.Now()
	if sqlDB, err := h.db.DB(); err != nil {
		checks["postgres"] = gin.H{"ok": false, "error": err.Error()}
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["postgres"] = gin.H{"ok": false, "error": err.Error()}
		healthy = false
	} else {
		checks["postgres"] = gin.H{"ok": true, "latency_ms": time.Since(start).Milliseconds()}
	}

	if h.redis != nil {
		start = time.Now()
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = gin.H{"ok": false, "error": err.Error()}
			healthy = false
		} else {
			checks["redis"] = gin.H{"ok": true, "latency_ms": time.Since(start).Milliseconds()}
		}
	}

	if h.graph != nil && h.graph.Driver != nil {
		start = time.Now()
		if err := h.graph.Driver.VerifyConnectivity(ctx); err != nil {
			checks["neo4j"] = gin.H{"ok": false, "error": err.Error()}
			healthy = false
		} else {
			checks["neo4j"] = gin.H{"ok": true, "latency_ms": time.Since(start).Milliseconds()}
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusWord(healthy), "checks": checks})
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
