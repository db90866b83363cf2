package scorer

import (
	"context"

	"github.com/rushteam/recore/core"
)

// PopularityKey 是全局热门榜单在 KV 存储中的有序集合 key。
const PopularityKey = "recore:popularity"

// Popularity 是全局热门信号，也是冷启动与降级的兜底。
//
// 热度维护：
//   - 交互记录钩子调用 Bump，按交互权重累加
//   - 定时任务调用 Decay 做指数衰减，近期行为权重更高
//
// 打分：榜单分数按最大值归一到 [0,1]，榜单外的候选计 0 分。
// 这是唯一保证"每个候选都有分"的信号。
type Popularity struct {
	KV core.KeyValueStore
}

func (s *Popularity) Name() string { return "popularity" }

func (s *Popularity) ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	scored, err := s.KV.ZRangeWithScores(ctx, PopularityKey, 0, -1)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeUnavailable,
			"popularity: board unavailable: "+err.Error())
	}

	board := make(map[string]float64, len(scored))
	var max float64
	for _, sm := range scored {
		board[sm.Member] = sm.Score
		if sm.Score > max {
			max = sm.Score
		}
	}

	scores := make(map[string]float64, len(itemIDs))
	for _, itemID := range itemIDs {
		if max > 0 {
			scores[itemID] = board[itemID] / max
		} else {
			scores[itemID] = 0
		}
	}
	return scores, nil
}

// Bump 按交互权重累加物品热度（交互日志钩子中调用）。
func (s *Popularity) Bump(ctx context.Context, itemID string, weight float64) error {
	_, err := s.KV.ZIncrBy(ctx, PopularityKey, weight, itemID)
	return err
}

// Decay 将榜单整体乘以 factor，0 < factor < 1。
func (s *Popularity) Decay(ctx context.Context, factor float64) error {
	if factor <= 0 || factor >= 1 {
		return core.NewDomainError(core.ModuleStore, core.ErrorCodeValidation,
			"popularity: decay factor must be in (0,1)")
	}
	return s.KV.ZScale(ctx, PopularityKey, factor)
}

var _ core.Scorer = (*Popularity)(nil)
