// Package rank 实现多信号混合打分。
package rank

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/pipeline"
	"github.com/rushteam/recore/pkg/utils"
)

// WeightTolerance 是实验变体权重和允许的误差。
const WeightTolerance = 1e-6

// HistoryCounter 提供用户交互条数（冷启动系数的输入）。
type HistoryCounter interface {
	CountByUser(userID string) int
}

// Blender 是混合打分 Node：并发调用各路信号，按变体权重加权求和。
//
// 打分流程：
//  1. errgroup 并发调用全部信号，整路失败视为不可用
//  2. 每路信号在候选集内做 min-max 归一，消除量纲差异
//  3. 冷启动系数 α = min(1, n/KMin)：个性化信号权重乘 α，
//     让出的权重全部划给热门信号
//  4. 不可用信号的权重按可用权重占比重新分摊；对单个物品缺分的
//     信号同样逐物品重摊，缺分从不按零分计入
//  5. 最终分 = Σ(有效权重 × 归一分)，逐信号贡献记入 Contributions
//
// 全部信号不可用时进入降级：候选按 ID 排序原样返回并打降级标记，
// 服务链路不向调用方报错。
type Blender struct {
	scorers  []core.Scorer
	variants map[string]map[string]float64
	fallback string // 默认变体名
	history  HistoryCounter
	kMin     int

	// hasPopularity 是否注册了热门信号（冷启动让权的去向）
	hasPopularity bool

	// ScorerTimeout 单路信号打分的超时，0 表示不限制。
	// 超时的信号按整路不可用降级，不阻塞整条请求链路。
	ScorerTimeout time.Duration
}

// NewBlender 创建混排节点。
// variants 是 变体名 -> (信号名 -> 权重)，每个变体的权重和必须为 1（±1e-6），
// 且只能引用已注册的信号名。
func NewBlender(scorers []core.Scorer, variants map[string]map[string]float64, defaultVariant string, history HistoryCounter, kMin int) (*Blender, error) {
	if len(scorers) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
			"rank: at least one scorer required")
	}
	known := make(map[string]struct{}, len(scorers))
	for _, s := range scorers {
		known[s.Name()] = struct{}{}
	}
	for variant, weights := range variants {
		var sum float64
		for name, w := range weights {
			if _, ok := known[name]; !ok {
				return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
					fmt.Sprintf("rank: variant %q references unknown scorer %q", variant, name))
			}
			if w < 0 {
				return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
					fmt.Sprintf("rank: variant %q has negative weight for %q", variant, name))
			}
			sum += w
		}
		if math.Abs(sum-1) > WeightTolerance {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
				fmt.Sprintf("rank: variant %q weights sum to %v, want 1", variant, sum))
		}
	}
	if _, ok := variants[defaultVariant]; !ok {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
			fmt.Sprintf("rank: default variant %q not defined", defaultVariant))
	}
	if kMin <= 0 {
		kMin = 3
	}
	_, hasPopularity := known["popularity"]
	return &Blender{
		scorers:       scorers,
		variants:      variants,
		fallback:      defaultVariant,
		history:       history,
		kMin:          kMin,
		hasPopularity: hasPopularity,
	}, nil
}

func (b *Blender) Name() string        { return "rank.blend" }
func (b *Blender) Kind() pipeline.Kind { return pipeline.KindRank }

func (b *Blender) Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}

	weights, ok := b.variants[rctx.Variant]
	if !ok {
		weights = b.variants[b.fallback]
	}

	itemIDs := make([]string, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}

	// 并发打分，整路失败只降级不报错
	results := make([]map[string]float64, len(b.scorers))
	available := make([]bool, len(b.scorers))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range b.scorers {
		g.Go(func() error {
			sctx := gctx
			if b.ScorerTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, b.ScorerTimeout)
				defer cancel()
			}
			scores, err := s.ScoreItems(sctx, rctx.UserID, itemIDs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				return nil
			}
			results[i] = normalize(scores)
			available[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	effective := b.effectiveWeights(rctx, weights, available)
	if len(effective) == 0 {
		// 全信号降级：按 ID 稳定排序原样返回
		rctx.PutLabel("degraded", utils.Label{Value: "all_signals_unavailable", Source: "rank"})
		for _, it := range items {
			it.Score = 0
		}
		core.SortItems(items)
		return items, nil
	}

	for _, it := range items {
		it.Score = 0
		it.Contributions = make(map[string]float64, len(effective))
		// 逐物品重摊：某路信号对该物品缺分时，它的权重按比例摊给
		// 对该物品有分的信号，而不是按零分计入
		var wsum float64
		for i, s := range b.scorers {
			w, ok := effective[s.Name()]
			if !ok || results[i] == nil {
				continue
			}
			if _, scored := results[i][it.ID]; scored {
				wsum += w
			}
		}
		if wsum == 0 {
			continue
		}
		for i, s := range b.scorers {
			w, ok := effective[s.Name()]
			if !ok || results[i] == nil {
				continue
			}
			score, scored := results[i][it.ID]
			if !scored {
				continue
			}
			it.Contribute(s.Name(), (w/wsum)*score)
		}
	}

	core.SortItems(items)
	return items, nil
}

// effectiveWeights 先做冷启动调整，再把不可用信号的权重摊给可用信号。
func (b *Blender) effectiveWeights(rctx *core.RecommendContext, base map[string]float64, available []bool) map[string]float64 {
	alpha := 1.0
	if b.history != nil {
		n := b.history.CountByUser(rctx.UserID)
		alpha = math.Min(1, float64(n)/float64(b.kMin))
	}

	adjusted := make(map[string]float64, len(base))
	var ceded float64
	for name, w := range base {
		if name == "popularity" {
			adjusted[name] = w
			continue
		}
		adjusted[name] = w * alpha
		ceded += w * (1 - alpha)
	}
	if _, ok := adjusted["popularity"]; ok {
		adjusted["popularity"] += ceded
	} else if ceded > 0 && b.hasPopularity {
		// 变体权重没配热门信号也要兜底，让出的权重划给热门
		adjusted["popularity"] = ceded
	} else if ceded > 0 {
		// 没有热门信号可兜底时回摊给个性化信号
		var sum float64
		for _, w := range adjusted {
			sum += w
		}
		if sum > 0 {
			for name := range adjusted {
				adjusted[name] /= sum
			}
		}
	}
	if alpha < 1 {
		rctx.PutLabel("cold_start", utils.Label{
			Value:  fmt.Sprintf("alpha=%.3f", alpha),
			Source: "rank",
		})
	}

	// 剔除不可用信号并按可用权重和重新归一
	availByName := make(map[string]bool, len(b.scorers))
	for i, s := range b.scorers {
		availByName[s.Name()] = available[i]
	}
	effective := make(map[string]float64, len(adjusted))
	var availSum float64
	for name, w := range adjusted {
		if availByName[name] && w > 0 {
			effective[name] = w
			availSum += w
		}
	}
	if availSum == 0 {
		return nil
	}
	for name := range effective {
		effective[name] /= availSum
	}
	return effective
}

// normalize 在候选集内做 min-max 归一；分数恒定时全部计 1。
func normalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	out := make(map[string]float64, len(scores))
	if max == min {
		for k := range scores {
			out[k] = 1
		}
		return out
	}
	for k, v := range scores {
		out[k] = (v - min) / (max - min)
	}
	return out
}

var _ pipeline.Node = (*Blender)(nil)
