package filter

import (
	"context"

	"github.com/rushteam/recore/core"
)

// PurchasedStore 提供用户已购判断（interaction.Log 实现）。
type PurchasedStore interface {
	HasPurchased(userID, itemID string) bool
}

// PurchasedFilter 过滤用户已购买过的物品，默认生效，
// 请求显式要求保留（IncludePurchased）时放行。
type PurchasedFilter struct {
	Store PurchasedStore
}

func (f *PurchasedFilter) Name() string {
	return "filter.purchased"
}

func (f *PurchasedFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil || rctx == nil || rctx.IncludePurchased || f.Store == nil {
		return false, nil
	}
	return f.Store.HasPurchased(rctx.UserID, item.ID), nil
}

var _ Filter = (*PurchasedFilter)(nil)
