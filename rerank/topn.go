package rerank

import (
	"context"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/pipeline"
)

// TopNNode 是一个 Top-N 截断节点，按请求的 Count 截取前 N 个物品。
// 通常放在链路末端，混排与多样性重排之后。
type TopNNode struct {
	// N 要保留的物品数量；<= 0 时使用请求的 Count
	N int
}

func (n *TopNNode) Name() string {
	return "rerank.topn"
}

func (n *TopNNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *TopNNode) Process(
	_ context.Context,
	rctx *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	limit := n.N
	if limit <= 0 && rctx != nil {
		limit = rctx.Count
	}
	if limit <= 0 || len(items) <= limit {
		return items, nil
	}
	return items[:limit], nil
}

var _ pipeline.Node = (*TopNNode)(nil)
