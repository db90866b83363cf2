package filter

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/rushteam/recore/core"
)

// ExposedFilter 过滤近期已经推给用户看过的物品，避免反复曝光。
//
// 每个用户一只布隆过滤器：误判（把没曝光当成已曝光）只会少推一个
// 候选，代价可接受；漏判不存在。服务层在返回结果后调用 MarkExposed。
type ExposedFilter struct {
	mu     sync.RWMutex
	blooms map[string]*bloom.BloomFilter

	// Capacity 单用户预估曝光量，默认 10000
	Capacity uint
	// FalsePositiveRate 误判率，默认 0.01
	FalsePositiveRate float64
}

// NewExposedFilter 创建曝光过滤器。
func NewExposedFilter(capacity uint, fpRate float64) *ExposedFilter {
	if capacity == 0 {
		capacity = 10000
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	return &ExposedFilter{
		blooms:            make(map[string]*bloom.BloomFilter),
		Capacity:          capacity,
		FalsePositiveRate: fpRate,
	}
}

func (f *ExposedFilter) Name() string {
	return "filter.exposed"
}

func (f *ExposedFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil || rctx == nil || rctx.UserID == "" {
		return false, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	bf, ok := f.blooms[rctx.UserID]
	if !ok {
		return false, nil
	}
	return bf.TestString(item.ID), nil
}

// MarkExposed 记录一批已曝光物品。
func (f *ExposedFilter) MarkExposed(userID string, itemIDs []string) {
	if userID == "" || len(itemIDs) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	bf, ok := f.blooms[userID]
	if !ok {
		bf = bloom.NewWithEstimates(f.Capacity, f.FalsePositiveRate)
		f.blooms[userID] = bf
	}
	for _, id := range itemIDs {
		bf.AddString(id)
	}
}

// Reset 清空某用户的曝光记录（时间窗口轮换时使用）。
func (f *ExposedFilter) Reset(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blooms, userID)
}

var _ Filter = (*ExposedFilter)(nil)
