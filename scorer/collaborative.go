// Package scorer 提供混排用的单路打分信号。
//
// 每路信号实现 core.Scorer：模型协同、近邻协同、矩阵分解、内容相似度、全局热门。
// 信号只负责给候选打分，权重混合与兜底由 rank 包完成。
package scorer

import (
	"context"

	"github.com/rushteam/recore/core"
)

// Collaborative 是训练快照驱动的协同信号，服务路径的主信号。
//
// 分数 = 全局偏置 + 用户偏置 + 物品偏置 + 用户隐向量 · 物品隐向量，
// 即训练时优化的完整预测值。在线只查表，不做任何实时计算。
//
// 不可用条件：
//   - 尚未发布任何快照（训练未完成）
//   - 用户不在快照中（快照发布后才出现的新用户）
//
// 物品不在快照中时只是缺席，不影响整路可用性。
type Collaborative struct {
	Source core.SnapshotSource
}

func (s *Collaborative) Name() string { return "collaborative" }

func (s *Collaborative) ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	snap := s.Source.Current()
	if snap == nil {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"collaborative: no snapshot published")
	}
	if _, ok := snap.UserFactors[userID]; !ok {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"collaborative: user not in snapshot")
	}

	scores := make(map[string]float64, len(itemIDs))
	for _, itemID := range itemIDs {
		if pred, ok := snap.Predict(userID, itemID); ok {
			scores[itemID] = pred
		}
	}
	return scores, nil
}

var _ core.Scorer = (*Collaborative)(nil)
