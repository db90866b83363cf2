package core

import "time"

// FactorSnapshot 是一次训练产出的不可变模型快照。
//
// 生命周期：
//  1. Factor Trainer 在训练结束时创建（版本号单调递增）
//  2. 通过单次原子指针交换发布（model.Publisher），并发读者永远不会
//     看到半成品快照
//  3. 新快照发布且没有读者持有引用后，旧快照由 GC 回收
//
// 不可变约束：发布后所有 map / slice 均不得原地修改。增量更新
// （ingest 包）必须先派生副本再交换，见 DeriveWithVectors。
type FactorSnapshot struct {
	Version     int64
	UserFactors map[string][]float64
	ItemFactors map[string][]float64
	UserBias    map[string]float64
	ItemBias    map[string]float64
	GlobalBias  float64
	TrainedAt   time.Time

	// Stats 是训练运行的统计信息（用于 get_model_status）
	Stats TrainingStats
}

// TrainingStats 记录一次训练运行的规模与耗时。
type TrainingStats struct {
	NumUsers        int
	NumItems        int
	NumInteractions int
	Duration        time.Duration
	FinalLoss       float64
}

// Predict 计算用户对物品的预测分：global_bias + user_bias + item_bias + dot。
// 用户或物品不在快照中（冷启动 / 新物品）时返回 ok=false，
// 调用方应视为"信号不可用"而非数值分数。
func (s *FactorSnapshot) Predict(userID, itemID string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	uf, ok := s.UserFactors[userID]
	if !ok {
		return 0, false
	}
	itf, ok := s.ItemFactors[itemID]
	if !ok {
		return 0, false
	}
	return s.GlobalBias + s.UserBias[userID] + s.ItemBias[itemID] + Dot(uf, itf), true
}

// FactorDot 仅返回因子点积（不含偏置），用作次级相似度信号。
func (s *FactorSnapshot) FactorDot(userID, itemID string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	uf, ok := s.UserFactors[userID]
	if !ok {
		return 0, false
	}
	itf, ok := s.ItemFactors[itemID]
	if !ok {
		return 0, false
	}
	return Dot(uf, itf), true
}

// DeriveWithVectors 派生一个新快照：共享未触碰的条目，替换单对
// (user,item) 的向量与偏置。版本号保持不变——增量更新不产生新版本，
// 它只是下一次全量重训前的工作副本。
//
// 实现为 map 头的浅拷贝：O(用户数+物品数)，但所有向量切片共享，
// 只有被替换的两条是新分配的。原快照保持不可变。
func (s *FactorSnapshot) DeriveWithVectors(
	userID string, userVec []float64, userBias float64,
	itemID string, itemVec []float64, itemBias float64,
) *FactorSnapshot {
	derived := &FactorSnapshot{
		Version:     s.Version,
		UserFactors: make(map[string][]float64, len(s.UserFactors)),
		ItemFactors: make(map[string][]float64, len(s.ItemFactors)),
		UserBias:    make(map[string]float64, len(s.UserBias)),
		ItemBias:    make(map[string]float64, len(s.ItemBias)),
		GlobalBias:  s.GlobalBias,
		TrainedAt:   s.TrainedAt,
		Stats:       s.Stats,
	}
	for k, v := range s.UserFactors {
		derived.UserFactors[k] = v
	}
	for k, v := range s.ItemFactors {
		derived.ItemFactors[k] = v
	}
	for k, v := range s.UserBias {
		derived.UserBias[k] = v
	}
	for k, v := range s.ItemBias {
		derived.ItemBias[k] = v
	}
	derived.UserFactors[userID] = userVec
	derived.ItemFactors[itemID] = itemVec
	derived.UserBias[userID] = userBias
	derived.ItemBias[itemID] = itemBias
	return derived
}

// SnapshotSource 是"当前快照"的只读来源。
// 服务链路只通过它读取模型，与训练任务之间是单写多读的原子指针约定。
type SnapshotSource interface {
	// Current 返回当前已发布的快照；尚未有任何训练完成时返回 nil。
	Current() *FactorSnapshot
}

// Dot 计算两个向量的点积；长度不一致时返回 0。
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
