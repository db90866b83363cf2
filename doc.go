// Package recore 是一个个性化推荐内核（Recommendation Core）。
//
// 设计要点：
// - 事件驱动: 交互事件经摄入层进入日志，钩子联动缓存失效与热门榜单
// - 双轨模型: 周期性全量矩阵分解 + 在线单步增量更新，快照原子发布
// - 混排兜底: 多路信号按实验变体加权融合，信号故障降级而不是报错
// - 实验闭环: 哈希分桶 + 首曝光粘性 + 指标采集 + 双比例 z 检验
package recore

import "github.com/rushteam/recore/pipeline"

// 轻量 facade：便于用户直接 import "recore" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindCandidate = pipeline.KindCandidate
	KindFilter    = pipeline.KindFilter
	KindRank      = pipeline.KindRank
	KindReRank    = pipeline.KindReRank
)
