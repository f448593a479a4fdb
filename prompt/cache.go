package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/promptgate/promptgate/llm"
)

// DefaultCacheCapacity bounds the in-memory level of the version cache.
const DefaultCacheCapacity = 500

// defaultRedisTTL bounds how long an entry survives in the shared level.
const defaultRedisTTL = 5 * time.Minute

// Loader resolves the current version of a prompt from the authoritative
// store on a cache miss.
type Loader func(ctx context.Context, promptID uint) (*Version, error)

// ErrVersionNotFound is returned by Get when the loader resolves nothing.
var ErrVersionNotFound = errors.New("prompt version not found")

// Cache is a bounded LRU of resolved prompt versions keyed by prompt id,
// with an optional Redis second level shared between instances. Concurrent
// misses for the same prompt collapse into a single loader call; no lock is
// held across I/O.
type Cache struct {
	capacity int
	loader   Loader
	rdb      *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
	group    singleflight.Group

	mu    sync.Mutex
	items map[uint]*cacheNode
	head  *cacheNode
	tail  *cacheNode
}

type cacheNode struct {
	key     uint
	version *Version
	prev    *cacheNode
	next    *cacheNode
}

// CacheOptions tunes a Cache. Zero values get defaults; a nil Redis client
// disables the second level.
type CacheOptions struct {
	Capacity int
	Redis    *redis.Client
	RedisTTL time.Duration
}

// NewCache creates a version cache backed by loader.
func NewCache(loader Loader, opts CacheOptions, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	ttl := opts.RedisTTL
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &Cache{
		capacity: capacity,
		loader:   loader,
		rdb:      opts.Redis,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "prompt_cache")),
		items:    make(map[uint]*cacheNode),
	}
}

// Get returns the current version for promptID, loading and re-inserting on
// miss. A prompt with no current version fails with InvalidRequest.
func (c *Cache) Get(ctx context.Context, promptID uint) (*Version, error) {
	if v := c.lookup(promptID); v != nil {
		return v, nil
	}

	res, err, _ := c.group.Do(strconv.FormatUint(uint64(promptID), 10), func() (any, error) {
		if v := c.lookup(promptID); v != nil {
			return v, nil
		}
		if v := c.fromRedis(ctx, promptID); v != nil {
			c.store(v)
			return v, nil
		}
		v, err := c.loader(ctx, promptID)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, llm.NewError(llm.ClassInvalidRequest,
				fmt.Sprintf("prompt %d has no current version", promptID)).WithCause(ErrVersionNotFound)
		}
		c.Insert(ctx, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*Version), nil
}

// Insert places a freshly resolved version into both levels. Called on
// prompt create and update.
func (c *Cache) Insert(ctx context.Context, v *Version) {
	c.store(v)
	c.toRedis(ctx, v)
}

// Remove drops a prompt from both levels. Called on prompt delete.
func (c *Cache) Remove(ctx context.Context, promptID uint) {
	c.mu.Lock()
	if node, ok := c.items[promptID]; ok {
		c.unlink(node)
		delete(c.items, promptID)
	}
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, c.redisKey(promptID)).Err(); err != nil {
			c.logger.Debug("redis delete failed", zap.Uint("prompt_id", promptID), zap.Error(err))
		}
	}
}

// Len returns the number of cached versions in the in-memory level.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) lookup(promptID uint) *Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.items[promptID]
	if !ok {
		return nil
	}
	c.moveToHead(node)
	return node.version
}

func (c *Cache) store(v *Version) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[v.PromptID]; ok {
		node.version = v
		c.moveToHead(node)
		return
	}
	if len(c.items) >= c.capacity {
		c.evictTail()
	}
	node := &cacheNode{key: v.PromptID, version: v}
	c.items[v.PromptID] = node
	c.pushHead(node)
}

func (c *Cache) fromRedis(ctx context.Context, promptID uint) *Version {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, c.redisKey(promptID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("redis get failed", zap.Uint("prompt_id", promptID), zap.Error(err))
		}
		return nil
	}
	var v Version
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.Uint("prompt_id", promptID), zap.Error(err))
		return nil
	}
	return &v
}

func (c *Cache) toRedis(ctx context.Context, v *Version) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.redisKey(v.PromptID), raw, c.ttl).Err(); err != nil {
		c.logger.Debug("redis set failed", zap.Uint("prompt_id", v.PromptID), zap.Error(err))
	}
}

func (c *Cache) redisKey(promptID uint) string {
	return "promptgate:version:" + strconv.FormatUint(uint64(promptID), 10)
}

func (c *Cache) pushHead(node *cacheNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *Cache) unlink(node *cacheNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
}

func (c *Cache) moveToHead(node *cacheNode) {
	if node == c.head {
		return
	}
	c.unlink(node)
	c.pushHead(node)
}

func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.items, c.tail.key)
	c.unlink(c.tail)
}
