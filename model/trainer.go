// Package model 负责隐因子模型的训练、发布与增量更新。
//
// 核心思想：带偏置的矩阵分解（SGD 训练）
// 预测分数 = global_bias + user_bias + item_bias + 用户隐向量 · 物品隐向量
//
// 工程特征：
//   - 训练离线进行，产出不可变快照，通过原子指针发布
//   - 同一随机种子与同一输入保证逐位可复现
//   - 损失出现 NaN/Inf 视为发散，丢弃快照并返回 DIVERGENCE 错误
package model

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/feature"
)

// TrainerConfig 是 SGD 训练超参。
type TrainerConfig struct {
	Factors        int     `yaml:"factors"`         // 隐向量维度
	LearningRate   float64 `yaml:"learning_rate"`   // 学习率
	Regularization float64 `yaml:"regularization"`  // L2 正则系数
	Epochs         int     `yaml:"epochs"`          // 训练轮数
	Seed           int64   `yaml:"seed"`            // 随机种子（复现用）
}

// DefaultTrainerConfig 返回默认超参。
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Factors:        64,
		LearningRate:   0.005,
		Regularization: 0.02,
		Epochs:         20,
		Seed:           42,
	}
}

func (c *TrainerConfig) normalize() {
	if c.Factors <= 0 {
		c.Factors = 64
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.005
	}
	if c.Regularization < 0 {
		c.Regularization = 0.02
	}
	if c.Epochs <= 0 {
		c.Epochs = 20
	}
}

// Trainer 在交互三元组上训练带偏置的矩阵分解模型。
type Trainer struct {
	cfg TrainerConfig
}

// NewTrainer 创建训练器。
func NewTrainer(cfg TrainerConfig) *Trainer {
	cfg.normalize()
	return &Trainer{cfg: cfg}
}

// ErrNoTrainingData 表示没有可训练的样本。
var ErrNoTrainingData = core.NewDomainError(core.ModuleModel, core.ErrorCodeValidation,
	"model: no training data")

// ErrDiverged 表示训练发散（损失为 NaN/Inf），本轮快照被丢弃。
var ErrDiverged = core.NewDomainError(core.ModuleModel, core.ErrorCodeDivergence,
	"model: training diverged")

// Train 执行全量训练，返回版本号为 version 的新快照。
// 相同的 (triples, cfg) 输入产出逐位相同的因子。
// ctx 取消在 epoch 边界生效。
func (t *Trainer) Train(ctx context.Context, triples []feature.Triple, version int64) (*core.FactorSnapshot, error) {
	if len(triples) == 0 {
		return nil, ErrNoTrainingData
	}
	start := time.Now()

	// 初始化顺序必须确定：先收集并排序 ID 再按序初始化
	userSet := make(map[string]struct{})
	itemSet := make(map[string]struct{})
	var totalWeight float64
	for _, tr := range triples {
		userSet[tr.UserID] = struct{}{}
		itemSet[tr.ItemID] = struct{}{}
		totalWeight += tr.Weight
	}
	users := sortedKeys(userSet)
	items := sortedKeys(itemSet)

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	scale := 0.1 / math.Sqrt(float64(t.cfg.Factors))

	snap := &core.FactorSnapshot{
		Version:     version,
		UserFactors: make(map[string][]float64, len(users)),
		ItemFactors: make(map[string][]float64, len(items)),
		UserBias:    make(map[string]float64, len(users)),
		ItemBias:    make(map[string]float64, len(items)),
		GlobalBias:  totalWeight / float64(len(triples)),
	}
	for _, u := range users {
		snap.UserFactors[u] = randomVector(rng, t.cfg.Factors, scale)
	}
	for _, it := range items {
		snap.ItemFactors[it] = randomVector(rng, t.cfg.Factors, scale)
	}

	lr := t.cfg.LearningRate
	reg := t.cfg.Regularization
	order := make([]int, len(triples))
	for i := range order {
		order[i] = i
	}

	var loss float64
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		loss = 0
		for _, idx := range order {
			tr := triples[idx]
			uf := snap.UserFactors[tr.UserID]
			itf := snap.ItemFactors[tr.ItemID]
			bu := snap.UserBias[tr.UserID]
			bi := snap.ItemBias[tr.ItemID]

			pred := snap.GlobalBias + bu + bi + core.Dot(uf, itf)
			e := tr.Weight - pred
			loss += e * e

			snap.UserBias[tr.UserID] = bu + lr*(e-reg*bu)
			snap.ItemBias[tr.ItemID] = bi + lr*(e-reg*bi)
			for f := 0; f < t.cfg.Factors; f++ {
				du := uf[f]
				uf[f] += lr * (e*itf[f] - reg*du)
				itf[f] += lr * (e*du - reg*itf[f])
			}
		}

		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, ErrDiverged
		}
	}

	snap.TrainedAt = time.Now()
	snap.Stats = core.TrainingStats{
		NumUsers:        len(users),
		NumItems:        len(items),
		NumInteractions: len(triples),
		Duration:        time.Since(start),
		FinalLoss:       loss / float64(len(triples)),
	}
	return snap, nil
}

// Config 返回训练器的超参副本。
func (t *Trainer) Config() TrainerConfig {
	return t.cfg
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func randomVector(rng *rand.Rand, n int, scale float64) []float64 {
	vec := make([]float64, n)
	for i := range vec {
		vec[i] = (rng.Float64()*2 - 1) * scale
	}
	return vec
}
