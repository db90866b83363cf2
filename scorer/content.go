package scorer

import (
	"context"
	"time"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/feature"
	"github.com/rushteam/recore/interaction"
)

// Content 是内容相似度信号："和你交互过的物品长得像的物品"。
//
//  1. 物品向量：优先用远程特征平台（Source），缺省时由目录元数据
//     one-hot 编码得到，本地缓存复用
//  2. 用户画像 = 交互权重加权平均的物品向量
//  3. 候选分数 = 画像与候选向量的余弦相似度
//
// 目录是外部依赖：调用方应传入已被熔断器包装的 Catalog，
// 目录故障时整路信号返回不可用，由混排层降级。
type Content struct {
	Log     *interaction.Log
	Builder *feature.Builder
	Catalog core.Catalog

	// Source 可选的远程特征平台（如 Feast），为空时用目录元数据编码
	Source core.FeatureSource

	// Cache 物品/用户向量的本地缓存，可为空
	Cache *feature.MemoryVectorCache

	// CacheTTL 向量缓存时长，默认 10 分钟
	CacheTTL time.Duration
}

func (s *Content) Name() string { return "content" }

func (s *Content) ScoreItems(ctx context.Context, userID string, itemIDs []string) (map[string]float64, error) {
	weights := s.Builder.UserWeights(s.Log.EventsByUser(userID), nowFunc())
	if len(weights) == 0 {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"content: no interaction history")
	}

	// 画像需要历史物品的向量，打分需要候选物品的向量，一次取全
	wanted := make([]string, 0, len(weights)+len(itemIDs))
	seen := make(map[string]struct{}, len(weights)+len(itemIDs))
	for itemID := range weights {
		wanted = append(wanted, itemID)
		seen[itemID] = struct{}{}
	}
	for _, itemID := range itemIDs {
		if _, ok := seen[itemID]; !ok {
			wanted = append(wanted, itemID)
			seen[itemID] = struct{}{}
		}
	}

	vectors, err := s.itemVectors(ctx, wanted)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable,
			"content: item vectors unavailable: "+err.Error())
	}

	profile := feature.UserProfile(weights, vectors)
	if len(profile) == 0 {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			"content: empty user profile")
	}

	scores := make(map[string]float64)
	for _, itemID := range itemIDs {
		vec, ok := vectors[itemID]
		if !ok {
			continue
		}
		if sim := feature.Cosine(profile, vec); sim > 0 {
			scores[itemID] = sim
		}
	}
	return scores, nil
}

// itemVectors 读取物品向量，缓存优先，缺失的批量补齐。
func (s *Content) itemVectors(ctx context.Context, itemIDs []string) (map[string]map[string]float64, error) {
	vectors := make(map[string]map[string]float64, len(itemIDs))
	var missing []string
	for _, itemID := range itemIDs {
		if s.Cache != nil {
			if vec, ok := s.Cache.GetItemVector(ctx, itemID); ok {
				vectors[itemID] = vec
				continue
			}
		}
		missing = append(missing, itemID)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := s.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for itemID, vec := range fetched {
		vectors[itemID] = vec
		if s.Cache != nil {
			s.Cache.SetItemVector(ctx, itemID, vec, s.CacheTTL)
		}
	}
	return vectors, nil
}

func (s *Content) fetch(ctx context.Context, itemIDs []string) (map[string]map[string]float64, error) {
	if s.Source != nil {
		return s.Source.GetItemVectors(ctx, itemIDs)
	}
	metas, err := s.Catalog.GetMetadata(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	vectors := make(map[string]map[string]float64, len(metas))
	for itemID, meta := range metas {
		if vec := feature.ItemVector(meta); len(vec) > 0 {
			vectors[itemID] = vec
		}
	}
	return vectors, nil
}

var _ core.Scorer = (*Content)(nil)
