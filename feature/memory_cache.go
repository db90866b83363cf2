package feature

import (
	"context"
	"sync"
	"time"
)

// MemoryVectorCache 是向量的内存缓存，采用 LRU 策略。
// 内容信号的物品向量来自目录元数据或远程特征平台，
// 本地缓存减少每次打分的重复构建与远程访问。
type MemoryVectorCache struct {
	mu            sync.RWMutex
	userVectors   map[string]*vectorEntry
	itemVectors   map[string]*vectorEntry
	maxSize       int
	defaultTTL    time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type vectorEntry struct {
	vector     map[string]float64
	expireTime time.Time
	accessTime time.Time
}

// NewMemoryVectorCache 创建向量缓存。
func NewMemoryVectorCache(maxSize int, defaultTTL time.Duration) *MemoryVectorCache {
	cache := &MemoryVectorCache{
		userVectors: make(map[string]*vectorEntry),
		itemVectors: make(map[string]*vectorEntry),
		maxSize:     maxSize,
		defaultTTL:  defaultTTL,
		stopCleanup: make(chan struct{}),
	}
	cache.cleanupTicker = time.NewTicker(1 * time.Minute)
	go cache.cleanup()
	return cache
}

func (c *MemoryVectorCache) cleanup() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.cleanExpired()
		case <-c.stopCleanup:
			c.cleanupTicker.Stop()
			return
		}
	}
}

func (c *MemoryVectorCache) cleanExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, entry := range c.userVectors {
		if now.After(entry.expireTime) {
			delete(c.userVectors, k)
		}
	}
	for k, entry := range c.itemVectors {
		if now.After(entry.expireTime) {
			delete(c.itemVectors, k)
		}
	}

	if len(c.userVectors) > c.maxSize {
		evictLRU(c.userVectors, c.maxSize)
	}
	if len(c.itemVectors) > c.maxSize {
		evictLRU(c.itemVectors, c.maxSize)
	}
}

func evictLRU(m map[string]*vectorEntry, max int) {
	for len(m) > max {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for key, entry := range m {
			if first || entry.accessTime.Before(oldestTime) {
				oldestKey = key
				oldestTime = entry.accessTime
				first = false
			}
		}
		if first {
			return
		}
		delete(m, oldestKey)
	}
}

func (c *MemoryVectorCache) GetUserVector(ctx context.Context, userID string) (map[string]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.userVectors[userID]
	if !ok || time.Now().After(entry.expireTime) {
		return nil, false
	}
	entry.accessTime = time.Now()
	return entry.vector, true
}

func (c *MemoryVectorCache) SetUserVector(ctx context.Context, userID string, vec map[string]float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.userVectors) >= c.maxSize {
		evictLRU(c.userVectors, c.maxSize-1)
	}
	c.userVectors[userID] = &vectorEntry{
		vector:     vec,
		expireTime: time.Now().Add(ttl),
		accessTime: time.Now(),
	}
}

func (c *MemoryVectorCache) GetItemVector(ctx context.Context, itemID string) (map[string]float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.itemVectors[itemID]
	if !ok || time.Now().After(entry.expireTime) {
		return nil, false
	}
	entry.accessTime = time.Now()
	return entry.vector, true
}

func (c *MemoryVectorCache) SetItemVector(ctx context.Context, itemID string, vec map[string]float64, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.itemVectors) >= c.maxSize {
		evictLRU(c.itemVectors, c.maxSize-1)
	}
	c.itemVectors[itemID] = &vectorEntry{
		vector:     vec,
		expireTime: time.Now().Add(ttl),
		accessTime: time.Now(),
	}
}

// InvalidateUser 删除用户画像缓存（新交互到达时调用）。
func (c *MemoryVectorCache) InvalidateUser(ctx context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.userVectors, userID)
}

// Clear 清空全部缓存。
func (c *MemoryVectorCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userVectors = make(map[string]*vectorEntry)
	c.itemVectors = make(map[string]*vectorEntry)
}

// Close 停止清理协程。
func (c *MemoryVectorCache) Close() {
	close(c.stopCleanup)
}
