// Package filter 提供候选过滤器与过滤 Node。
package filter

import (
	"context"

	"github.com/rushteam/recore/core"
)

// Filter 判断单个物品是否应从候选中剔除。
type Filter interface {
	Name() string
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}
