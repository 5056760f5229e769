package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-deployment-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// SnapshotLoader reads a deployment snapshot from the system of record.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error)
}

// SnapshotCache keeps decoded snapshots in process. Snapshots never change
// after a deployment is created, so the TTL only bounds memory.
type SnapshotCache struct {
	loader SnapshotLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedSnapshot
}

type cachedSnapshot struct {
	snapshot  domain.Snapshot
	expiresAt time.Time
}

func NewSnapshotCache(loader SnapshotLoader, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedSnapshot),
	}
}

func (c *SnapshotCache) Snapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error) {
	if s, ok := c.lookup(deploymentID); ok {
		return s, nil
	}

	result, err, _ := c.sf.Do(deploymentID, func() (interface{}, error) {
		if s, ok := c.lookup(deploymentID); ok {
			return s, nil
		}
		s, err := c.loader.LoadSnapshot(ctx, deploymentID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		c.mu.Lock()
		c.cache[deploymentID] = cachedSnapshot{
			snapshot:  s,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return result.(domain.Snapshot), nil
}

// Forget drops a cached snapshot, used when its deployment is deleted.
func (c *SnapshotCache) Forget(_ context.Context, deploymentID string) error {
	c.mu.Lock()
	delete(c.cache, deploymentID)
	c.mu.Unlock()
	return nil
}

func (c *SnapshotCache) lookup(deploymentID string) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[deploymentID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Snapshot{}, false
	}
	return entry.snapshot, true
}

func (c *SnapshotCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter so entries loaded together do not expire together
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
