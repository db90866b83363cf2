package model

import (
	"sync/atomic"

	"github.com/rushteam/recore/core"
)

// Publisher 持有"当前快照"的原子指针。
//
// 并发约定：
//   - Publish 只由训练任务调用（单写者），版本号单调递增
//   - Current 被服务链路高频调用，无锁读
//   - ApplyDelta 用 CAS 派生快照做增量更新；若期间有全量重训
//     发布了新快照，增量结果直接丢弃，等下一次重训自然覆盖
type Publisher struct {
	current atomic.Pointer[core.FactorSnapshot]
	version atomic.Int64
}

// NewPublisher 创建发布器，初始无快照。
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Current 返回当前快照；尚未发布过时返回 nil。
func (p *Publisher) Current() *core.FactorSnapshot {
	return p.current.Load()
}

// NextVersion 分配下一个快照版本号。
func (p *Publisher) NextVersion() int64 {
	return p.version.Add(1)
}

// Publish 原子替换当前快照（全量重训产物）。
func (p *Publisher) Publish(snap *core.FactorSnapshot) {
	p.current.Store(snap)
}

// ApplyDelta 基于当前快照派生新快照并 CAS 交换。
// derive 必须是纯函数：只读输入快照，返回新快照。
// 返回 false 表示无快照可更新，或 CAS 失败（全量重训竞争胜出）。
func (p *Publisher) ApplyDelta(derive func(*core.FactorSnapshot) *core.FactorSnapshot) bool {
	cur := p.current.Load()
	if cur == nil {
		return false
	}
	derived := derive(cur)
	if derived == nil {
		return false
	}
	return p.current.CompareAndSwap(cur, derived)
}

var _ core.SnapshotSource = (*Publisher)(nil)
