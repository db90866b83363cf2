package metrics

import (
	"math"

	"github.com/rushteam/recore/core"
)

// DefaultMinSampleSize 显著性分析要求的每组最小曝光量。
const DefaultMinSampleSize = 100

// Comparison 是两个变体某个比率指标的显著性分析结果。
type Comparison struct {
	Experiment string `json:"experiment"`
	// Metric 被比较的指标：conversion_rate 或 click_through_rate
	Metric    string `json:"metric"`
	Control   string `json:"control"`
	Treatment string `json:"treatment"`

	ControlRate   float64 `json:"control_rate"`
	TreatmentRate float64 `json:"treatment_rate"`
	// EffectSize 绝对提升：treatment_rate - control_rate
	EffectSize float64 `json:"effect_size"`

	ZScore float64 `json:"z_score"`
	PValue float64 `json:"p_value"`
	// Significant p < 0.05 且两组样本量都达标
	Significant bool `json:"significant"`

	ControlSamples   int64 `json:"control_samples"`
	TreatmentSamples int64 `json:"treatment_samples"`
	// Underpowered 任一组曝光量不足 MinSampleSize
	Underpowered bool `json:"underpowered"`
}

// Analyzer 对实验做双比例 z 检验。
type Analyzer struct {
	collector     *Collector
	minSampleSize int64
}

// NewAnalyzer 创建分析器。minSampleSize <= 0 时用默认值。
func NewAnalyzer(collector *Collector, minSampleSize int64) *Analyzer {
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &Analyzer{collector: collector, minSampleSize: minSampleSize}
}

// CompareConversion 比较两个变体的转化率（conversions/impressions）。
// 样本不足时仍给出点估计，但 Significant 恒为 false 且标记 Underpowered。
func (a *Analyzer) CompareConversion(experiment, control, treatment string) (Comparison, error) {
	return a.compareRate(experiment, control, treatment, "conversion_rate", a.minSampleSize)
}

// CompareClickThrough 比较两个变体的点击率（clicks/impressions）。
func (a *Analyzer) CompareClickThrough(experiment, control, treatment string) (Comparison, error) {
	return a.compareRate(experiment, control, treatment, "click_through_rate", a.minSampleSize)
}

// CompareWithMinSample 用调用方指定的最小样本量做比较，minSampleSize <= 0 时
// 退回分析器默认值。metric 支持 conversion_rate 与 click_through_rate。
func (a *Analyzer) CompareWithMinSample(experiment, control, treatment, metric string, minSampleSize int64) (Comparison, error) {
	if minSampleSize <= 0 {
		minSampleSize = a.minSampleSize
	}
	return a.compareRate(experiment, control, treatment, metric, minSampleSize)
}

func (a *Analyzer) compareRate(experiment, control, treatment, metric string, minSampleSize int64) (Comparison, error) {
	cc := a.collector.VariantCounts(experiment, control)
	tc := a.collector.VariantCounts(experiment, treatment)

	if cc.Impressions == 0 || tc.Impressions == 0 {
		return Comparison{}, core.NewDomainError(core.ModuleMetrics, core.ErrorCodeValidation,
			"metrics: both variants need impressions to compare")
	}

	var cSucc, tSucc int64
	switch metric {
	case "conversion_rate":
		cSucc, tSucc = cc.Conversions, tc.Conversions
	case "click_through_rate":
		cSucc, tSucc = cc.Clicks, tc.Clicks
	default:
		return Comparison{}, core.NewDomainError(core.ModuleMetrics, core.ErrorCodeValidation,
			"metrics: unknown metric "+metric)
	}

	result := Comparison{
		Experiment:       experiment,
		Metric:           metric,
		Control:          control,
		Treatment:        treatment,
		ControlSamples:   cc.Impressions,
		TreatmentSamples: tc.Impressions,
		ControlRate:      float64(cSucc) / float64(cc.Impressions),
		TreatmentRate:    float64(tSucc) / float64(tc.Impressions),
	}
	result.EffectSize = result.TreatmentRate - result.ControlRate
	result.Underpowered = cc.Impressions < minSampleSize || tc.Impressions < minSampleSize

	z, p := twoProportionZTest(
		float64(cSucc), float64(cc.Impressions),
		float64(tSucc), float64(tc.Impressions),
	)
	result.ZScore = z
	result.PValue = p
	result.Significant = !result.Underpowered && p < 0.05
	return result, nil
}

// twoProportionZTest 双比例 z 检验（合并比例），返回 z 值与双侧 p 值。
// 两组比例相同且无方差时 z=0, p=1。
func twoProportionZTest(succA, nA, succB, nB float64) (z, p float64) {
	pA := succA / nA
	pB := succB / nB
	pooled := (succA + succB) / (nA + nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/nA + 1/nB))
	if se == 0 {
		return 0, 1
	}
	z = (pB - pA) / se
	// 双侧 p 值：2 * (1 - Φ(|z|))，Φ 用 erf 表达
	p = 2 * (1 - 0.5*(1+math.Erf(math.Abs(z)/math.Sqrt2)))
	return z, p
}
