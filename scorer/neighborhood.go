package scorer

import (
	"context"
	"sort"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/feature"
	"github.com/rushteam/recore/interaction"
)

// Neighborhood 是基于用户近邻的协同信号。
//
// 核心思想："和你相似的用户还喜欢什么"
//  1. 用时间衰减权重构建每个用户的 item->weight 稀疏向量
//  2. 余弦相似度找出 TopK 近邻
//  3. 候选分数 = Σ(近邻相似度 × 近邻对该物品的权重) / Σ相似度
//
// 工程特征：
//   - 实时性：好（读交互日志在线计算，不等训练）
//   - 冷启动：差（无交互用户整路不可用，由混排层兜底）
type Neighborhood struct {
	Log     *interaction.Log
	Builder *feature.Builder

	// TopK 近邻数，默认 20
	TopK int
}

func (s *Neighborhood) Name() string { return "neighborhood" }

func (s *Neighborhood) ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	now := nowFunc()
	own := s.Builder.UserWeights(s.Log.EventsByUser(userID), now)
	if len(own) == 0 {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"neighborhood: no interaction history")
	}

	type neighbor struct {
		userID string
		sim    float64
	}
	var neighbors []neighbor
	for _, other := range s.Log.Users() {
		if other == userID {
			continue
		}
		weights := s.Builder.UserWeights(s.Log.EventsByUser(other), now)
		if sim := feature.Cosine(own, weights); sim > 0 {
			neighbors = append(neighbors, neighbor{userID: other, sim: sim})
		}
	}
	if len(neighbors) == 0 {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"neighborhood: no similar users")
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].sim != neighbors[j].sim {
			return neighbors[i].sim > neighbors[j].sim
		}
		return neighbors[i].userID < neighbors[j].userID
	})
	topK := s.TopK
	if topK <= 0 {
		topK = 20
	}
	if len(neighbors) > topK {
		neighbors = neighbors[:topK]
	}

	candidate := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		candidate[id] = struct{}{}
	}

	scores := make(map[string]float64)
	var simSum float64
	for _, nb := range neighbors {
		simSum += nb.sim
		for itemID, w := range s.Builder.UserWeights(s.Log.EventsByUser(nb.userID), now) {
			if _, ok := candidate[itemID]; !ok {
				continue
			}
			scores[itemID] += nb.sim * w
		}
	}
	for itemID := range scores {
		scores[itemID] /= simSum
	}
	return scores, nil
}

var _ core.Scorer = (*Neighborhood)(nil)
