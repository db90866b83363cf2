// Package metrics 负责实验指标的采集、显著性分析与 Prometheus 暴露。
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/recore/core"
)

// Outcome 是一次推荐结果的后续事件。
type Outcome string

const (
	OutcomeImpression Outcome = "impression" // 结果送达用户
	OutcomeClick      Outcome = "click"      // 用户点击了推荐物品
	OutcomeConversion Outcome = "conversion" // 用户购买了推荐物品
)

// Counts 是一个 (实验, 变体) 的累计计数。
type Counts struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
}

type variantKey struct {
	experiment string
	variant    string
}

// Collector 按 (实验, 变体) 聚合指标，同时注册到 Prometheus。
type Collector struct {
	mu     sync.Mutex
	counts map[variantKey]*Counts

	latency        *LatencyWindow
	variantLatency map[variantKey]*LatencyWindow

	outcomes     *prometheus.CounterVec
	latencyObs   *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	trainingRuns *prometheus.CounterVec
}

// NewCollector 创建采集器并在 reg 上注册 Prometheus 指标。
// reg 为 nil 时跳过注册，聚合计数仍然可用（测试场景）。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		counts:         make(map[variantKey]*Counts),
		latency:        NewLatencyWindow(4096),
		variantLatency: make(map[variantKey]*LatencyWindow),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recore",
			Name:      "experiment_outcomes_total",
			Help:      "Recommendation outcomes by experiment and variant.",
		}, []string{"experiment", "variant", "outcome"}),
		latencyObs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recore",
			Name:      "recommend_latency_seconds",
			Help:      "End to end recommendation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"experiment", "variant"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recore",
			Name:      "result_cache_total",
			Help:      "Result cache lookups by status.",
		}, []string{"status"}),
		trainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recore",
			Name:      "training_runs_total",
			Help:      "Full retraining runs by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(c.outcomes, c.latencyObs, c.cacheHits, c.trainingRuns)
	}
	return c
}

// RecordOutcome 记录一次结果事件。
func (c *Collector) RecordOutcome(experiment, variant string, outcome Outcome) error {
	switch outcome {
	case OutcomeImpression, OutcomeClick, OutcomeConversion:
	default:
		return core.NewDomainError(core.ModuleMetrics, core.ErrorCodeValidation,
			"metrics: unknown outcome "+string(outcome))
	}

	c.mu.Lock()
	key := variantKey{experiment: experiment, variant: variant}
	counts, ok := c.counts[key]
	if !ok {
		counts = &Counts{}
		c.counts[key] = counts
	}
	switch outcome {
	case OutcomeImpression:
		counts.Impressions++
	case OutcomeClick:
		counts.Clicks++
	case OutcomeConversion:
		counts.Conversions++
	}
	c.mu.Unlock()

	c.outcomes.WithLabelValues(experiment, variant, string(outcome)).Inc()
	return nil
}

// ObserveLatency 记录一次端到端推荐耗时。
// 总体分布之外按 (实验, 变体) 各自维护滑动窗口，实验为空时只计入总体。
func (c *Collector) ObserveLatency(experiment, variant string, d time.Duration) {
	c.latency.Observe(d)
	if experiment != "" {
		key := variantKey{experiment: experiment, variant: variant}
		c.mu.Lock()
		win, ok := c.variantLatency[key]
		if !ok {
			win = NewLatencyWindow(4096)
			c.variantLatency[key] = win
		}
		c.mu.Unlock()
		win.Observe(d)
	}
	c.latencyObs.WithLabelValues(experiment, variant).Observe(d.Seconds())
}

// RecordCacheLookup 记录缓存命中情况。
func (c *Collector) RecordCacheLookup(hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	c.cacheHits.WithLabelValues(status).Inc()
}

// RecordTrainingRun 记录一次全量重训的结果：success / failure / divergence。
func (c *Collector) RecordTrainingRun(err error) {
	result := "success"
	switch {
	case err == nil:
	case core.IsDivergence(err):
		result = "divergence"
	default:
		result = "failure"
	}
	c.trainingRuns.WithLabelValues(result).Inc()
}

// VariantCounts 返回一个 (实验, 变体) 的计数副本。
func (c *Collector) VariantCounts(experiment, variant string) Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counts, ok := c.counts[variantKey{experiment: experiment, variant: variant}]; ok {
		return *counts
	}
	return Counts{}
}

// LatencyPercentile 返回总体窗口内 p 分位的耗时。
func (c *Collector) LatencyPercentile(p float64) time.Duration {
	return c.latency.Percentile(p)
}

// VariantLatencyPercentile 返回一个 (实验, 变体) 窗口内 p 分位的耗时。
// 该组合没有观测时返回 0。
func (c *Collector) VariantLatencyPercentile(experiment, variant string, p float64) time.Duration {
	c.mu.Lock()
	win, ok := c.variantLatency[variantKey{experiment: experiment, variant: variant}]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return win.Percentile(p)
}
