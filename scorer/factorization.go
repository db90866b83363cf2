package scorer

import (
	"context"

	"github.com/rushteam/recore/core"
)

// Factorization 是隐因子模型信号：在线查表，离线训练。
//
// 分数 = 用户隐向量 · 物品隐向量（不含偏置项）。
// 偏置项在候选集内近似常量，去掉后与含偏置的模型协同信号区分度更高。
//
// 不可用条件：
//   - 尚未发布任何快照（训练未完成）
//   - 用户不在快照中（快照发布后才出现的新用户）
//
// 物品不在快照中时只是缺席，不影响整路可用性。
type Factorization struct {
	Source core.SnapshotSource
}

func (s *Factorization) Name() string { return "factorization" }

func (s *Factorization) ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	snap := s.Source.Current()
	if snap == nil {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"factorization: no snapshot published")
	}
	if _, ok := snap.UserFactors[userID]; !ok {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"factorization: user not in snapshot")
	}

	scores := make(map[string]float64, len(itemIDs))
	for _, itemID := range itemIDs {
		if dot, ok := snap.FactorDot(userID, itemID); ok {
			scores[itemID] = dot
		}
	}
	return scores, nil
}

var _ core.Scorer = (*Factorization)(nil)
