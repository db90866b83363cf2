package filter

import (
	"context"
	"sync"

	"github.com/rushteam/recore/core"
)

// BlacklistFilter 过滤运营下架/拉黑的物品，名单进程内维护。
type BlacklistFilter struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewBlacklistFilter 创建黑名单过滤器。
func NewBlacklistFilter(itemIDs ...string) *BlacklistFilter {
	f := &BlacklistFilter{blocked: make(map[string]struct{}, len(itemIDs))}
	for _, id := range itemIDs {
		f.blocked[id] = struct{}{}
	}
	return f
}

// Block 拉黑物品。
func (f *BlacklistFilter) Block(itemIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range itemIDs {
		f.blocked[id] = struct{}{}
	}
}

// Unblock 解除拉黑。
func (f *BlacklistFilter) Unblock(itemIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range itemIDs {
		delete(f.blocked, id)
	}
}

func (f *BlacklistFilter) Name() string {
	return "filter.blacklist"
}

func (f *BlacklistFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return false, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.blocked[item.ID]
	return ok, nil
}

var _ Filter = (*BlacklistFilter)(nil)
