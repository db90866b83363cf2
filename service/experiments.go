package service

import (
	"fmt"
	"time"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/experiment"
	"github.com/rushteam/recore/metrics"
)

// CreateExperiment 注册一个新实验，初始状态为 draft。
// 实验的每个变体都必须有对应的混排权重，否则拒绝创建。
func (r *Recommender) CreateExperiment(exp experiment.Experiment) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	for _, v := range exp.Variants {
		if _, ok := r.cfg.Blend.Variants[v.Name]; !ok {
			return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
				fmt.Sprintf("experiment %s: variant %q has no blend weights", exp.ID, v.Name))
		}
	}
	if exp.Status == "" {
		exp.Status = experiment.StatusDraft
	}

	r.expMu.Lock()
	defer r.expMu.Unlock()
	if _, ok := r.experiments[exp.ID]; ok {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeDuplicate,
			fmt.Sprintf("experiment %s already exists", exp.ID))
	}
	r.experiments[exp.ID] = &exp
	return nil
}

// StartExperiment 把 draft 实验转入 running，开始参与分流。
func (r *Recommender) StartExperiment(experimentID string) error {
	return r.transition(experimentID, experiment.StatusDraft, experiment.StatusRunning)
}

// CompleteExperiment 结束实验，之后的新请求回默认变体。
// 已有首曝记录保留，历史指标仍可查询。
func (r *Recommender) CompleteExperiment(experimentID string) error {
	return r.transition(experimentID, experiment.StatusRunning, experiment.StatusCompleted)
}

// transition 状态机只允许 draft -> running -> completed 单向推进。
func (r *Recommender) transition(experimentID string, from, to experiment.Status) error {
	r.expMu.Lock()
	defer r.expMu.Unlock()
	exp, ok := r.experiments[experimentID]
	if !ok {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeNotFound,
			fmt.Sprintf("experiment %s not found", experimentID))
	}
	if exp.Status != from {
		return core.NewDomainError(core.ModuleExperiment, core.ErrorCodeValidation,
			fmt.Sprintf("experiment %s: cannot transition from %s to %s", experimentID, exp.Status, to))
	}
	exp.Status = to
	return nil
}

// Experiment 返回实验配置的副本。
func (r *Recommender) Experiment(experimentID string) (experiment.Experiment, error) {
	r.expMu.RLock()
	defer r.expMu.RUnlock()
	exp, ok := r.experiments[experimentID]
	if !ok {
		return experiment.Experiment{}, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeNotFound,
			fmt.Sprintf("experiment %s not found", experimentID))
	}
	return *exp, nil
}

// VariantStats 是单个变体的指标快照：累计计数与耗时分位。
type VariantStats struct {
	Counts metrics.Counts `json:"counts"`

	LatencyP50 time.Duration `json:"latency_p50"`
	LatencyP95 time.Duration `json:"latency_p95"`
	LatencyP99 time.Duration `json:"latency_p99"`
}

// ExperimentReport 是一次实验指标查询的完整结果。
type ExperimentReport struct {
	ExperimentID string                  `json:"experiment_id"`
	Variants     map[string]VariantStats `json:"variants"`
	// Significance 每个非默认变体相对默认变体的显著性检验，
	// 按实验关注的指标逐项给出；曝光不足的变体不在列表中
	Significance []metrics.Comparison `json:"significance"`
}

// ExperimentMetrics 返回实验的指标报告：各变体的计数与耗时分位，
// 加上相对默认变体的转化率、点击率显著性检验。
// 最小样本量优先取实验配置，未配置时用全局默认。
func (r *Recommender) ExperimentMetrics(experimentID string) (*ExperimentReport, error) {
	r.expMu.RLock()
	exp, ok := r.experiments[experimentID]
	r.expMu.RUnlock()
	if !ok {
		return nil, core.NewDomainError(core.ModuleExperiment, core.ErrorCodeNotFound,
			fmt.Sprintf("experiment %s not found", experimentID))
	}

	report := &ExperimentReport{
		ExperimentID: experimentID,
		Variants:     make(map[string]VariantStats, len(exp.Variants)),
	}
	for _, v := range exp.Variants {
		report.Variants[v.Name] = VariantStats{
			Counts:     r.collector.VariantCounts(experimentID, v.Name),
			LatencyP50: r.collector.VariantLatencyPercentile(experimentID, v.Name, 0.50),
			LatencyP95: r.collector.VariantLatencyPercentile(experimentID, v.Name, 0.95),
			LatencyP99: r.collector.VariantLatencyPercentile(experimentID, v.Name, 0.99),
		}
	}

	control := exp.DefaultVariant()
	for _, v := range exp.Variants {
		if v.Name == control {
			continue
		}
		for _, metric := range experimentMetricNames(exp) {
			cmp, err := r.analyzer.CompareWithMinSample(experimentID, control, v.Name, metric, exp.MinSampleSize)
			if err != nil {
				continue
			}
			report.Significance = append(report.Significance, cmp)
		}
	}
	return report, nil
}

// experimentMetricNames 返回实验关注的比率指标，未配置时默认两项都算。
func experimentMetricNames(exp *experiment.Experiment) []string {
	if len(exp.Metrics) == 0 {
		return []string{"click_through_rate", "conversion_rate"}
	}
	return exp.Metrics
}
