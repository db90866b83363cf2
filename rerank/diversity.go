package rerank

import (
	"context"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/pipeline"
)

// DiversityNode 按类目打散：相邻结果尽量来自不同类目。
//
// 贪心策略：逐位挑选分数最高且不与前一个结果同类目的候选，
// 实在挑不出时回退为分数序，不丢弃任何物品。
// 类目取自 item.Meta["category"]，缺失类目的物品视为各自独立。
type DiversityNode struct {
	// MaxRun 同类目允许的最大连续长度，默认 1
	MaxRun int
}

func (n *DiversityNode) Name() string {
	return "rerank.diversity"
}

func (n *DiversityNode) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *DiversityNode) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	maxRun := n.MaxRun
	if maxRun <= 0 {
		maxRun = 1
	}
	if len(items) <= maxRun {
		return items, nil
	}

	remaining := make([]*core.Item, len(items))
	copy(remaining, items)
	out := make([]*core.Item, 0, len(items))

	lastCategory := ""
	run := 0
	for len(remaining) > 0 {
		picked := -1
		for i, it := range remaining {
			cat := categoryOf(it)
			if cat == "" || cat != lastCategory || run < maxRun {
				picked = i
				break
			}
		}
		if picked < 0 {
			// 只剩同类目候选，放弃打散
			picked = 0
		}

		it := remaining[picked]
		cat := categoryOf(it)
		if cat == lastCategory && cat != "" {
			run++
		} else {
			lastCategory = cat
			run = 1
		}
		out = append(out, it)
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	return out, nil
}

func categoryOf(it *core.Item) string {
	if it == nil || it.Meta == nil {
		return ""
	}
	if cat, ok := it.Meta["category"].(string); ok {
		return cat
	}
	return ""
}

var _ pipeline.Node = (*DiversityNode)(nil)
