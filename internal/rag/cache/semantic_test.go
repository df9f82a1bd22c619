package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seatutor/mariner-backend/internal/platform/logger"
)

func newCache(t *testing.T, cfg Config) *SemanticCache {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return New(log, cfg)
}

func TestLookupSimilarityGate(t *testing.T) {
	c := newCache(t, Config{Similarity: 0.95})
	c.Store([]float32{1, 0, 0}, CachedAnswer{Answer: "rule 15 applies"})

	if _, ok := c.Lookup([]float32{1, 0, 0}); !ok {
		t.Fatalf("identical embedding should hit")
	}
	// orthogonal vector, cosine 0
	if _, ok := c.Lookup([]float32{0, 1, 0}); ok {
		t.Fatalf("dissimilar embedding must miss")
	}
}

func TestLookupPicksBestMatch(t *testing.T) {
	c := newCache(t, Config{Similarity: 0.5})
	c.Store([]float32{1, 0.5, 0}, CachedAnswer{Answer: "near"})
	c.Store([]float32{1, 0, 0}, CachedAnswer{Answer: "exact"})

	got, ok := c.Lookup([]float32{1, 0, 0})
	if !ok {
		t.Fatalf("expected a hit")
	}
	if got.Answer != "exact" {
		t.Fatalf("answer = %q, want the highest-cosine entry", got.Answer)
	}
}

func TestLookupTTLExpiry(t *testing.T) {
	c := newCache(t, Config{TTL: time.Nanosecond})
	c.Store([]float32{1, 0, 0}, CachedAnswer{Answer: "stale"})
	time.Sleep(time.Millisecond)

	if _, ok := c.Lookup([]float32{1, 0, 0}); ok {
		t.Fatalf("expired entry must not be served")
	}
}

func TestStoreCapacityEviction(t *testing.T) {
	c := newCache(t, Config{Capacity: 2, Similarity: 0.9})
	c.Store([]float32{1, 0, 0}, CachedAnswer{Answer: "first"})
	c.Store([]float32{0, 1, 0}, CachedAnswer{Answer: "second"})
	c.Store([]float32{0, 0, 1}, CachedAnswer{Answer: "third"})

	if got := c.Len(); got != 2 {
		t.Fatalf("len = %d, want capacity 2", got)
	}
	if _, ok := c.Lookup([]float32{1, 0, 0}); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := c.Lookup([]float32{0, 0, 1}); !ok {
		t.Fatalf("newest entry should survive eviction")
	}
}

func TestLookupCopiesCitations(t *testing.T) {
	c := newCache(t, Config{})
	c.Store([]float32{1, 0, 0}, CachedAnswer{Answer: "a"})

	got, ok := c.Lookup([]float32{1, 0, 0})
	if !ok {
		t.Fatalf("expected a hit")
	}
	if got.StoredAt.IsZero() {
		t.Fatalf("StoredAt should be stamped on store")
	}
}

func TestGenerateCoalesces(t *testing.T) {
	c := newCache(t, Config{})
	var runs int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Generate("same-key", func() (any, error) {
				atomic.AddInt32(&runs, 1)
				<-release
				return "answer", nil
			})
			if err != nil || v != "answer" {
				t.Errorf("Generate = %v, %v", v, err)
			}
		}()
	}
	// let the goroutines pile up on the same key before releasing
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("fn ran %d times, want 1", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]float32{0.1, 0.2, 0.3})
	b := Fingerprint([]float32{0.1, 0.2, 0.3})
	if a != b {
		t.Fatalf("identical embeddings must share a fingerprint")
	}
	if a == Fingerprint([]float32{0.3, 0.2, 0.1}) {
		t.Fatalf("different embeddings should not collide on short vectors")
	}
}
