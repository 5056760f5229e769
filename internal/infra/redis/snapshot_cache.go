package redis

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"exam-deployment-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SnapshotLoader reads a deployment snapshot from the system of record.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error)
}

// SnapshotCache shares decoded snapshots across instances.
// Snapshots are stored as: SET deployment:{id}:snapshot {versioned json}
type SnapshotCache struct {
	client *redis.Client
	loader SnapshotLoader
	ttl    time.Duration
	log    *slog.Logger
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewSnapshotCache(client *redis.Client, loader SnapshotLoader, ttl time.Duration, log *slog.Logger) *SnapshotCache {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *SnapshotCache) Snapshot(ctx context.Context, deploymentID string) (domain.Snapshot, error) {
	if s, ok := c.cached(ctx, deploymentID); ok {
		return s, nil
	}

	result, err, _ := c.sf.Do(deploymentID, func() (interface{}, error) {
		// Re-check in case another caller filled it.
		if s, ok := c.cached(ctx, deploymentID); ok {
			return s, nil
		}
		s, err := c.loader.LoadSnapshot(ctx, deploymentID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		data, err := domain.EncodeSnapshot(s)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if err := c.client.Set(ctx, c.key(deploymentID), data, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn("cache snapshot", "deployment_id", deploymentID, "error", err)
		}
		return s, nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return result.(domain.Snapshot), nil
}

// Forget drops a cached snapshot, used when its deployment is deleted.
func (c *SnapshotCache) Forget(ctx context.Context, deploymentID string) error {
	return c.client.Del(ctx, c.key(deploymentID)).Err()
}

// cached treats redis failures and undecodable entries as misses so the
// system of record stays authoritative.
func (c *SnapshotCache) cached(ctx context.Context, deploymentID string) (domain.Snapshot, bool) {
	data, err := c.client.Get(ctx, c.key(deploymentID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("read cached snapshot", "deployment_id", deploymentID, "error", err)
		}
		return domain.Snapshot{}, false
	}
	s, err := domain.DecodeSnapshot(data)
	if err != nil {
		c.log.Warn("decode cached snapshot", "deployment_id", deploymentID, "error", err)
		return domain.Snapshot{}, false
	}
	return s, true
}

func (c *SnapshotCache) key(deploymentID string) string {
	return "deployment:" + deploymentID + ":snapshot"
}

func (c *SnapshotCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
