package pipeline

import (
	"context"

	"github.com/rushteam/recore/core"
)

// Kind 用于标记 Node 类型，方便观测/治理/编排（例如按阶段打点）。
type Kind string

const (
	KindCandidate Kind = "candidate" // 候选阶段：生成候选集
	KindFilter    Kind = "filter"    // 过滤阶段：剔除不符合约束的候选
	KindRank      Kind = "rank"      // 排序阶段：对候选混合打分并排序
	KindReRank    Kind = "rerank"    // 重排阶段：多样性/截断等业务调优
)

// Node 是 Pipeline 的最小可扩展单元。
// 统一采用"输入 items -> 输出 items"的形态，方便候选生成、过滤截断、重排等操作。
type Node interface {
	Name() string
	Kind() Kind

	Process(
		ctx context.Context,
		rctx *core.RecommendContext,
		items []*core.Item,
	) ([]*core.Item, error)
}
