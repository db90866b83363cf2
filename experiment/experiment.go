// Package experiment 实现确定性的 A/B 实验分流。
package experiment

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rushteam/recore/core"
)

// AllocationTolerance 是变体流量和允许的误差。
const AllocationTolerance = 0.001

// Status 是实验生命周期状态。
type Status string

const (
	StatusDraft     Status = "draft"     // 配置中，不参与分流
	StatusRunning   Status = "running"   // 分流中
	StatusCompleted Status = "completed" // 已结束，新用户回默认变体
)

// Variant 是实验的一个分组。
type Variant struct {
	// Name 变体名，同时是混排权重配置的 key
	Name string `yaml:"name"`
	// Allocation 流量占比，同实验内所有变体之和为 1（±0.001）
	Allocation float64 `yaml:"allocation"`
}

// Experiment 是一个 A/B 实验。
type Experiment struct {
	ID       string    `yaml:"id"`
	Variants []Variant `yaml:"variants"`
	// Default 实验不在运行态或不在投放窗口内时使用的变体名
	Default string `yaml:"default"`
	Status  Status  `yaml:"status"`

	// StartAt / EndAt 是投放窗口，零值表示不限
	StartAt time.Time `yaml:"start_at"`
	EndAt   time.Time `yaml:"end_at"`
	// MinSampleSize 每个变体的最小样本量，低于它的显著性结论标记为样本不足；
	// 0 表示使用全局默认
	MinSampleSize int64 `yaml:"min_sample_size"`
	// Metrics 关注的指标名，如 click_through_rate、conversion_rate
	Metrics []string `yaml:"metrics"`
}

// Validate 校验实验配置：至少一个变体、流量和为 1、默认变体存在。
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			"experiment: id is required")
	}
	if len(e.Variants) == 0 {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			fmt.Sprintf("experiment %s: at least one variant required", e.ID))
	}

	var sum float64
	names := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		if v.Name == "" {
			return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
				fmt.Sprintf("experiment %s: variant name is required", e.ID))
		}
		if _, dup := names[v.Name]; dup {
			return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
				fmt.Sprintf("experiment %s: duplicate variant %q", e.ID, v.Name))
		}
		names[v.Name] = struct{}{}
		if v.Allocation < 0 {
			return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
				fmt.Sprintf("experiment %s: negative allocation for %q", e.ID, v.Name))
		}
		sum += v.Allocation
	}
	if math.Abs(sum-1) > AllocationTolerance {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			fmt.Sprintf("experiment %s: allocations sum to %v, want 1", e.ID, sum))
	}

	if e.Default != "" {
		if _, ok := names[e.Default]; !ok {
			return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
				fmt.Sprintf("experiment %s: default variant %q not defined", e.ID, e.Default))
		}
	}
	if !e.StartAt.IsZero() && !e.EndAt.IsZero() && !e.EndAt.After(e.StartAt) {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			fmt.Sprintf("experiment %s: end_at must be after start_at", e.ID))
	}
	if e.MinSampleSize < 0 {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			fmt.Sprintf("experiment %s: min_sample_size must not be negative", e.ID))
	}
	return nil
}

// Active 判断实验在给定时刻是否处于投放窗口内。
// 窗口端点为零值时对应一侧不限。
func (e *Experiment) Active(now time.Time) bool {
	if !e.StartAt.IsZero() && now.Before(e.StartAt) {
		return false
	}
	if !e.EndAt.IsZero() && !now.Before(e.EndAt) {
		return false
	}
	return true
}

// sortedVariants 返回按名称升序的变体副本，分桶边界与配置顺序无关。
func (e *Experiment) sortedVariants() []Variant {
	vs := make([]Variant, len(e.Variants))
	copy(vs, e.Variants)
	sort.Slice(vs, func(i, j int) bool { return vs[i].Name < vs[j].Name })
	return vs
}

// DefaultVariant 返回实验的默认变体名：Default 字段，未设置时取名称最小的变体。
func (e *Experiment) DefaultVariant() string {
	if e.Default != "" {
		return e.Default
	}
	return e.sortedVariants()[0].Name
}
