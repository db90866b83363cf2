package core

import "context"

// Scorer 是单路打分信号的领域接口。
//
// 约定：
//   - 返回的 map 只包含"能打出分"的物品；缺席的物品表示该信号
//     对它不可用（冷启动、目录缺失等），由混排层决定兜底
//   - 整路信号不可用时返回 ErrorCodeUnavailable 的 DomainError，
//     混排层会把它的权重按比例摊给其余可用信号
//   - 实现必须是并发安全的，混排层会用 errgroup 并发调用各路信号
type Scorer interface {
	// Name 返回信号名（作为混排权重与贡献拆解的 key）
	Name() string

	// ScoreItems 对候选集合批量打分
	ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error)
}

// IsSignalUnavailable 检查错误是否为整路信号不可用。
// 各信号实现用 NewDomainError 带上自己的模块名，这里提供通用检查。
func IsSignalUnavailable(err error) bool {
	return IsUnavailable(err)
}
