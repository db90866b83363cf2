// Package interaction 是交互事件的追加式存储。
//
// 核心思想：
//   - 事件一经记录不可变，训练 / 特征 / 热门信号都从这里读
//   - 完全相同的 (user,item,type,timestamp) 四元组幂等去重
//   - 记录成功后同步触发钩子（缓存失效、热门累加、增量更新），
//     钩子全部返回后 Record 才返回
package interaction

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/rushteam/recore/core"
)

// Hook 在一条交互成功记录后被同步调用。
// 钩子返回错误不回滚事件，只向上透出；钩子内部应自行降级。
type Hook func(ctx context.Context, in core.Interaction) error

// Log 是进程内的交互日志。
//
// 并发模型：单把读写锁保护追加与索引；History 在锁内抓取快照边界，
// 迭代在锁外进行，后续追加不影响已经开始的迭代。
type Log struct {
	mu      sync.RWMutex
	weights core.WeightTable

	events []core.Interaction
	byUser map[string][]int // user -> 事件在 events 中的下标（时间序即追加序）
	seen   map[string]struct{}

	// purchased 按用户缓存已购物品集合，过滤链路高频读取
	purchased map[string]map[string]struct{}

	hooks []Hook
}

// NewLog 创建交互日志。weights 为 nil 时使用默认权重表。
func NewLog(weights core.WeightTable) *Log {
	if weights == nil {
		weights = core.DefaultWeightTable()
	}
	return &Log{
		weights:   weights,
		byUser:    make(map[string][]int),
		seen:      make(map[string]struct{}),
		purchased: make(map[string]map[string]struct{}),
	}
}

// OnRecord 注册记录后钩子。注册须在开始写入前完成，不加锁。
func (l *Log) OnRecord(h Hook) {
	l.hooks = append(l.hooks, h)
}

// Record 记录一条交互。
// 校验失败返回 VALIDATION 错误；重复事件返回 DUPLICATE 错误且不触发钩子。
func (l *Log) Record(ctx context.Context, in core.Interaction) error {
	if err := l.weights.Validate(in); err != nil {
		return err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now()
	}

	key := in.TupleKey()

	l.mu.Lock()
	if _, dup := l.seen[key]; dup {
		l.mu.Unlock()
		return core.NewDomainError(core.ModuleInteraction, core.ErrorCodeDuplicate,
			"interaction: duplicate event")
	}
	l.seen[key] = struct{}{}
	idx := len(l.events)
	l.events = append(l.events, in)
	l.byUser[in.UserID] = append(l.byUser[in.UserID], idx)
	if in.Type == core.InteractionPurchase {
		if l.purchased[in.UserID] == nil {
			l.purchased[in.UserID] = make(map[string]struct{})
		}
		l.purchased[in.UserID][in.ItemID] = struct{}{}
	}
	l.mu.Unlock()

	// 钩子在锁外同步执行，首个错误向上返回，事件本身已落账
	for _, h := range l.hooks {
		if err := h(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

// History 返回某用户按时间序（记录序）的交互迭代器，
// 只产出时间戳不早于 since 的事件，since 为零值时不过滤。
// 迭代基于调用时刻的快照，期间的新增事件不会出现在本次迭代中。
func (l *Log) History(userID string, since time.Time) iter.Seq[core.Interaction] {
	l.mu.RLock()
	idxs := l.byUser[userID]
	snapshot := idxs[:len(idxs):len(idxs)]
	l.mu.RUnlock()

	return func(yield func(core.Interaction) bool) {
		for _, i := range snapshot {
			l.mu.RLock()
			ev := l.events[i]
			l.mu.RUnlock()
			if !since.IsZero() && ev.Timestamp.Before(since) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// All 返回全量交互的快照副本（训练输入）。
func (l *Log) All() []core.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Interaction, len(l.events))
	copy(out, l.events)
	return out
}

// CountByUser 返回某用户的交互条数（冷启动判断）。
func (l *Log) CountByUser(userID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byUser[userID])
}

// Len 返回全量交互条数。
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Purchased 返回某用户已购物品集合的副本。
func (l *Log) Purchased(userID string) map[string]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	set := l.purchased[userID]
	out := make(map[string]struct{}, len(set))
	for item := range set {
		out[item] = struct{}{}
	}
	return out
}

// HasPurchased 检查某用户是否购买过某物品。
func (l *Log) HasPurchased(userID, itemID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.purchased[userID][itemID]
	return ok
}

// UsersSince 返回在 since 之后有过交互的用户集合（定时重训的增量目标）。
func (l *Log) UsersSince(since time.Time) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for i := len(l.events) - 1; i >= 0; i-- {
		ev := l.events[i]
		if ev.Timestamp.Before(since) {
			continue
		}
		if _, ok := seen[ev.UserID]; ok {
			continue
		}
		seen[ev.UserID] = struct{}{}
		users = append(users, ev.UserID)
	}
	return users
}

// Users 返回出现过的用户 ID 集合（近邻协同的邻居候选）。
func (l *Log) Users() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	users := make([]string, 0, len(l.byUser))
	for u := range l.byUser {
		users = append(users, u)
	}
	return users
}

// EventsByUser 返回某用户交互的快照副本。
func (l *Log) EventsByUser(userID string) []core.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idxs := l.byUser[userID]
	out := make([]core.Interaction, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.events[i])
	}
	return out
}

// Weights 返回日志使用的权重表。
func (l *Log) Weights() core.WeightTable {
	return l.weights
}
