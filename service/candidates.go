package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/pipeline"
	"github.com/rushteam/recore/pkg/utils"
	"github.com/rushteam/recore/scorer"
)

// candidateNode 候选生成节点：从目录召回全部在售物品。
// 目录不可用或返回空集时回退热门榜单并打降级标记，不向调用方报错。
type candidateNode struct {
	catalog core.Catalog
	kv      core.KeyValueStore
	logger  zerolog.Logger
}

func (n *candidateNode) Name() string        { return "candidate.catalog" }
func (n *candidateNode) Kind() pipeline.Kind { return pipeline.KindCandidate }

func (n *candidateNode) Process(ctx context.Context, rctx *core.RecommendContext, _ []*core.Item) ([]*core.Item, error) {
	ids, err := n.catalog.ListActiveItems(ctx)
	if err == nil && len(ids) > 0 {
		items := toItems(ids)
		n.attachMeta(ctx, items)
		return items, nil
	}
	if err != nil {
		n.logger.Warn().Err(err).Str("request_id", rctx.RequestID).Msg("catalog unavailable")
	}
	rctx.PutLabel("degraded_catalog", utils.Label{Value: "true", Source: "service"})
	limit := int64(rctx.Count) * 10
	top, zerr := n.kv.ZRange(ctx, scorer.PopularityKey, 0, limit-1)
	if zerr != nil {
		n.logger.Warn().Err(zerr).Msg("popularity fallback")
		return nil, nil
	}
	items := toItems(top)
	for _, it := range items {
		it.PutLabel("source", utils.Label{Value: "popularity_fallback", Source: "candidate"})
	}
	return items, nil
}

// attachMeta 给候选补充目录属性（类目、品牌），供下游重排节点使用。
// 元数据读取失败不影响召回，只是候选不带属性。
func (n *candidateNode) attachMeta(ctx context.Context, items []*core.Item) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	metas, err := n.catalog.GetMetadata(ctx, ids)
	if err != nil {
		n.logger.Warn().Err(err).Msg("catalog metadata unavailable")
		return
	}
	for _, it := range items {
		meta, ok := metas[it.ID]
		if !ok {
			continue
		}
		if it.Meta == nil {
			it.Meta = make(map[string]any, 2)
		}
		it.Meta["category"] = meta.Category
		it.Meta["brand"] = meta.Brand
	}
}

func toItems(ids []string) []*core.Item {
	items := make([]*core.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, core.NewItem(id))
	}
	return items
}

var _ pipeline.Node = (*candidateNode)(nil)
