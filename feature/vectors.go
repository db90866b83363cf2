package feature

import (
	"math"

	"github.com/rushteam/recore/core"
)

// ItemVector 把物品元数据编码为稀疏 one-hot 向量。
// 维度命名：category:<v> / brand:<v> / tag:<v>，值恒为 1。
func ItemVector(meta core.ItemMetadata) map[string]float64 {
	vec := make(map[string]float64, 2+len(meta.Tags))
	if meta.Category != "" {
		vec["category:"+meta.Category] = 1
	}
	if meta.Brand != "" {
		vec["brand:"+meta.Brand] = 1
	}
	for _, tag := range meta.Tags {
		if tag != "" {
			vec["tag:"+tag] = 1
		}
	}
	return vec
}

// UserProfile 用交互权重对物品向量加权平均，得到用户画像向量。
// itemWeights 是 Builder.UserWeights 的输出，itemVectors 按物品 ID 索引。
// 权重和为 0（无可用物品向量）时返回空 map。
func UserProfile(itemWeights map[string]float64, itemVectors map[string]map[string]float64) map[string]float64 {
	profile := make(map[string]float64)
	var totalWeight float64

	for itemID, w := range itemWeights {
		vec, ok := itemVectors[itemID]
		if !ok || w <= 0 {
			continue
		}
		totalWeight += w
		for dim, v := range vec {
			profile[dim] += w * v
		}
	}
	if totalWeight == 0 {
		return map[string]float64{}
	}
	for dim := range profile {
		profile[dim] /= totalWeight
	}
	return profile
}

// Cosine 计算两个稀疏向量的余弦相似度；任一向量为零向量时返回 0。
func Cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// 遍历较小的向量求点积
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for dim, va := range a {
		if vb, ok := b[dim]; ok {
			dot += va * vb
		}
	}
	if dot == 0 {
		return 0
	}
	var na, nb float64
	for _, v := range a {
		na += v * v
	}
	for _, v := range b {
		nb += v * v
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
