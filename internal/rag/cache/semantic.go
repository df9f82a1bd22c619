package cache

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	types "github.com/seatutor/mariner-backend/internal/domain"
	"github.com/seatutor/mariner-backend/internal/pkg/vec"
	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

// CachedAnswer is the reusable part of a completed generation.
type CachedAnswer struct {
	Answer     string
	Citations  []types.Citation
	QueryType  string
	Confidence float64
	StoredAt   time.Time
}

type entry struct {
	embedding  []float32
	answer     CachedAnswer
	createdAt  time.Time
	lastAccess time.Time
}

type Config struct {
	TTL        time.Duration
	Similarity float64
	Capacity   int
}

// SemanticCache is an embedding-keyed approximate-match cache. Lookup scans
// for any entry with cosine >= Similarity and age < TTL.
type SemanticCache struct {
	log     *logger.Logger
	cfg     Config
	mu      sync.RWMutex
	entries []*entry
	group   singleflight.Group
}

func New(log *logger.Logger, cfg Config) *SemanticCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.Similarity <= 0 {
		cfg.Similarity = 0.99
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10000
	}
	return &SemanticCache{log: log.With("service", "SemanticCache"), cfg: cfg}
}

func (c *SemanticCache) Lookup(emb []float32) (*CachedAnswer, bool) {
	if len(emb) == 0 {
		return nil, false
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *entry
	var bestSim float64
	for _, e := range c.entries {
		if now.Sub(e.createdAt) >= c.cfg.TTL {
			continue
		}
		sim := vec.Cosine(emb, e.embedding)
		if sim >= c.cfg.Similarity && sim > bestSim {
			best = e
			bestSim = sim
		}
	}
	if best == nil {
		return nil, false
	}
	best.lastAccess = now
	out := best.answer
	out.Citations = append([]types.Citation(nil), best.answer.Citations...)
	return &out, true
}

func (c *SemanticCache) Store(emb []float32, ans CachedAnswer) {
	if len(emb) == 0 {
		return
	}
	now := time.Now()
	ans.StoredAt = now

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cfg.Capacity {
		c.evictOldestLocked()
	}
	c.entries = append(c.entries, &entry{
		embedding:  append([]float32(nil), emb...),
		answer:     ans,
		createdAt:  now,
		lastAccess: now,
	})
}

// evictOldestLocked drops expired entries first, then the oldest by creation.
func (c *SemanticCache) evictOldestLocked() {
	now := time.Now()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if now.Sub(e.createdAt) < c.cfg.TTL {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	if len(c.entries) < c.cfg.Capacity {
		return
	}
	oldest := 0
	for i, e := range c.entries {
		if e.createdAt.Before(c.entries[oldest].createdAt) {
			oldest = i
		}
	}
	c.entries = append(c.entries[:oldest], c.entries[oldest+1:]...)
}

func (c *SemanticCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Generate coalesces concurrent generations for the same fingerprint: only
// one caller runs fn, the rest wait for its result.
func (c *SemanticCache) Generate(fingerprint string, fn func() (any, error)) (any, error) {
	v, err, _ := c.group.Do(fingerprint, fn)
	return v, err
}

// Fingerprint derives a stable key from a query embedding. Values are
// quantized so that bit-identical queries collapse to one key.
func Fingerprint(emb []float32) string {
	h := fnv.New64a()
	var buf [2]byte
	for _, x := range emb {
		q := int16(x * 1000)
		binary.LittleEndian.PutUint16(buf[:], uint16(q))
		_, _ = h.Write(buf[:])
	}
	return fmt.Sprintf("%x", h.Sum64())
}
