// Package cache 是推荐结果的读穿缓存。
//
// 缓存键由 (用户, 数量, 快照版本, 实验变体, 代次) 共同决定：
// 任意一项变化都意味着结果可能不同，直接落到新键上，
// 旧键等 TTL 自然过期。用户产生新交互时整用户失效。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rushteam/recore/core"
)

// DefaultTTL 缓存时长（秒），默认 30 分钟。
const DefaultTTL = 1800

const (
	keyPrefix   = "recore:rec:"
	indexPrefix = "recore:rec:index:"
	genPrefix   = "recore:rec:gen:"
)

// Key 唯一标识一份缓存结果。
type Key struct {
	UserID          string
	Count           int
	SnapshotVersion int64
	Variant         string
	// Generation 用户的缓存代次，请求开始时读取。
	// 失效通过递增代次完成，带旧代次的迟到写入落在永远不会被读的键上。
	Generation int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s%s:%d:%d:%s:%d", keyPrefix, k.UserID, k.Count, k.SnapshotVersion, k.Variant, k.Generation)
}

func indexKey(userID string) string {
	return indexPrefix + userID
}

func genKey(userID string) string {
	return genPrefix + userID
}

// cachedItem 是缓存的序列化形态。
type cachedItem struct {
	ID            string             `json:"id"`
	Score         float64            `json:"score"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
	Meta          map[string]any     `json:"meta,omitempty"`
}

// ResultCache 在 KeyValueStore 上实现结果缓存。
type ResultCache struct {
	kv  core.KeyValueStore
	ttl int
}

// NewResultCache 创建结果缓存。ttlSeconds <= 0 时用 DefaultTTL。
func NewResultCache(kv core.KeyValueStore, ttlSeconds int) *ResultCache {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTL
	}
	return &ResultCache{kv: kv, ttl: ttlSeconds}
}

// Get 读缓存。未命中返回 (nil, false, nil)；存储故障返回错误，
// 调用方应把故障当未命中处理。
func (c *ResultCache) Get(ctx context.Context, key Key) ([]*core.Item, bool, error) {
	raw, err := c.kv.Get(ctx, key.String())
	if core.IsStoreNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cached []cachedItem
	if err := json.Unmarshal(raw, &cached); err != nil {
		// 损坏条目当未命中，等待覆盖
		return nil, false, nil
	}
	items := make([]*core.Item, 0, len(cached))
	for _, ci := range cached {
		it := core.NewItem(ci.ID)
		it.Score = ci.Score
		for k, v := range ci.Contributions {
			it.Contributions[k] = v
		}
		for k, v := range ci.Meta {
			it.Meta[k] = v
		}
		items = append(items, it)
	}
	return items, true, nil
}

// Put 写缓存并登记到用户键索引。
func (c *ResultCache) Put(ctx context.Context, key Key, items []*core.Item) error {
	cached := make([]cachedItem, 0, len(items))
	for _, it := range items {
		cached = append(cached, cachedItem{
			ID:            it.ID,
			Score:         it.Score,
			Contributions: it.Contributions,
			Meta:          it.Meta,
		})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, key.String(), raw, c.ttl); err != nil {
		return err
	}
	// 索引写失败不回滚缓存：该键只会等 TTL 过期，不会失效遗漏整个用户
	return c.kv.SAdd(ctx, indexKey(key.UserID), key.String())
}

// Generation 读取用户当前的缓存代次，从未失效过的用户为 0。
func (c *ResultCache) Generation(ctx context.Context, userID string) (int64, error) {
	raw, err := c.kv.Get(ctx, genKey(userID))
	if core.IsStoreNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, core.NewDomainError(core.ModuleStore, core.ErrorCodeValidation,
			"cache: generation value is not an integer")
	}
	return gen, nil
}

// InvalidateUser 使某用户的全部缓存结果失效。
// 先递增代次再删索引里的键：与进行中的写入竞争时以失效为准，
// 带旧代次的迟到写入命中不到，只会等 TTL 过期。
func (c *ResultCache) InvalidateUser(ctx context.Context, userID string) error {
	if _, err := c.kv.Incr(ctx, genKey(userID)); err != nil {
		return err
	}
	keys, err := c.kv.SMembers(ctx, indexKey(userID))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.kv.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// TTL 返回缓存时长（秒）。
func (c *ResultCache) TTL() int {
	return c.ttl
}
