package filter

import (
	"context"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/pkg/dsl"
)

// RuleFilter 按 CEL 表达式过滤，表达式返回 true 的物品被剔除。
//
// 示例：
//   - `item.score < 0.05` 过滤低分长尾
//   - `item.meta.category == "adult"` 过滤受限类目
type RuleFilter struct {
	// Expr 是 CEL 表达式，空表达式不过滤任何物品
	Expr string
}

func (f *RuleFilter) Name() string {
	return "filter.rule"
}

func (f *RuleFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if f.Expr == "" || item == nil {
		return false, nil
	}
	return dsl.NewEval(item, rctx).Evaluate(f.Expr)
}

var _ Filter = (*RuleFilter)(nil)
