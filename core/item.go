package core

import (
	"sort"

	"github.com/rushteam/recore/pkg/utils"
)

// Item 是贯穿推荐链路的候选物品。
// 链路各阶段（召回、打分、过滤、重排）在同一个 Item 上附加信息，
// Contributions 记录每个信号对最终分数的加权贡献，便于线上排查。
type Item struct {
	ID    string
	Score float64
	// Contributions 按信号名记录 加权后 的分数贡献，
	// 各项之和等于 Score（混排阶段填充）。
	Contributions map[string]float64
	// Meta 是物品侧的任意附加数据（类目、品牌等）。
	Meta map[string]any
	// Labels 记录该物品在链路中被打上的标记（来源、降级原因等）。
	Labels map[string]utils.Label
}

// NewItem 创建一个候选物品。
func NewItem(id string) *Item {
	return &Item{
		ID:            id,
		Contributions: make(map[string]float64),
		Meta:          make(map[string]any),
		Labels:        make(map[string]utils.Label),
	}
}

// PutLabel 打标，同名标签按来源合并。
func (it *Item) PutLabel(key string, label utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, label)
		return
	}
	it.Labels[key] = label
}

// Contribute 记录一个信号的加权贡献并累加到总分。
func (it *Item) Contribute(signal string, weighted float64) {
	if it.Contributions == nil {
		it.Contributions = make(map[string]float64)
	}
	it.Contributions[signal] += weighted
	it.Score += weighted
}

// Clone 深拷贝（缓存命中后返回副本，避免调用方改写缓存内容）。
func (it *Item) Clone() *Item {
	c := &Item{ID: it.ID, Score: it.Score}
	if it.Contributions != nil {
		c.Contributions = make(map[string]float64, len(it.Contributions))
		for k, v := range it.Contributions {
			c.Contributions[k] = v
		}
	}
	if it.Meta != nil {
		c.Meta = make(map[string]any, len(it.Meta))
		for k, v := range it.Meta {
			c.Meta[k] = v
		}
	}
	if it.Labels != nil {
		c.Labels = make(map[string]utils.Label, len(it.Labels))
		for k, v := range it.Labels {
			c.Labels[k] = v
		}
	}
	return c
}

// SortItems 按分数降序排序，分数相同按 ID 升序，保证结果确定。
func SortItems(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}
