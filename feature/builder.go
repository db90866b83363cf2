// Package feature 把原始交互转换为训练与打分用的特征：
// 时间衰减的交互权重、物品 one-hot 向量、用户画像向量。
package feature

import (
	"math"
	"sort"
	"time"

	"github.com/rushteam/recore/core"
)

// Triple 是一条训练样本：用户对物品的聚合交互权重。
type Triple struct {
	UserID string
	ItemID string
	Weight float64
}

// Builder 把交互日志聚合为 (user,item,weight) 三元组。
//
// 权重公式：weight(u,i) = Σ base_weight(type) * exp(-λ * Δt)
// Δt 为事件距参考时刻的时长，λ 控制时间衰减速度。
// 同一 (u,i) 的多条交互权重相加，近期购买远重于久远浏览。
type Builder struct {
	weights core.WeightTable
	lambda  float64 // 衰减系数，单位 1/秒
}

// DefaultLambda 默认衰减系数：半衰期 30 天。
var DefaultLambda = math.Ln2 / (30 * 24 * 3600)

// NewBuilder 创建特征构建器。weights 为 nil 用默认权重表，
// lambda <= 0 用默认半衰期。
func NewBuilder(weights core.WeightTable, lambda float64) *Builder {
	if weights == nil {
		weights = core.DefaultWeightTable()
	}
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	return &Builder{weights: weights, lambda: lambda}
}

// Decay 返回距参考时刻 dt 的衰减因子。
func (b *Builder) Decay(dt time.Duration) float64 {
	if dt < 0 {
		dt = 0
	}
	return math.Exp(-b.lambda * dt.Seconds())
}

// Build 聚合全量交互为三元组，按 (UserID, ItemID) 升序输出。
// 未知交互类型（权重表外）的事件被跳过，不中断构建。
func (b *Builder) Build(events []core.Interaction, asOf time.Time) []Triple {
	type key struct{ user, item string }
	agg := make(map[key]float64)

	for _, ev := range events {
		base, err := b.weights.Weight(ev.Type)
		if err != nil {
			continue
		}
		agg[key{ev.UserID, ev.ItemID}] += base * b.Decay(asOf.Sub(ev.Timestamp))
	}

	triples := make([]Triple, 0, len(agg))
	for k, w := range agg {
		triples = append(triples, Triple{UserID: k.user, ItemID: k.item, Weight: w})
	}
	sort.Slice(triples, func(i, j int) bool {
		if triples[i].UserID != triples[j].UserID {
			return triples[i].UserID < triples[j].UserID
		}
		return triples[i].ItemID < triples[j].ItemID
	})
	return triples
}

// UserWeights 聚合单个用户的 item -> weight 映射（近邻协同 / 画像输入）。
func (b *Builder) UserWeights(events []core.Interaction, asOf time.Time) map[string]float64 {
	out := make(map[string]float64)
	for _, ev := range events {
		base, err := b.weights.Weight(ev.Type)
		if err != nil {
			continue
		}
		out[ev.ItemID] += base * b.Decay(asOf.Sub(ev.Timestamp))
	}
	return out
}
