package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/recore/core"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	for i := 0; i < 10; i++ {
		if err := c.RecordOutcome("exp1", "control", OutcomeImpression); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := c.RecordOutcome("exp1", "control", OutcomeClick); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.RecordOutcome("exp1", "control", OutcomeConversion); err != nil {
		t.Fatal(err)
	}

	got := c.VariantCounts("exp1", "control")
	if got.Impressions != 10 || got.Clicks != 3 || got.Conversions != 1 {
		t.Fatalf("counts got %+v", got)
	}

	// 未知变体返回零值
	if zero := c.VariantCounts("exp1", "ghost"); zero != (Counts{}) {
		t.Fatalf("unknown variant got %+v", zero)
	}

	if err := c.RecordOutcome("exp1", "control", "teleport"); !core.IsValidation(err) {
		t.Fatalf("unknown outcome must fail validation, got %v", err)
	}
}

func TestLatencyWindowPercentiles(t *testing.T) {
	w := NewLatencyWindow(100)
	for i := 1; i <= 100; i++ {
		w.Observe(time.Duration(i) * time.Millisecond)
	}

	if got := w.Percentile(0.5); got != 50*time.Millisecond {
		t.Fatalf("p50 got %v, want 50ms", got)
	}
	if got := w.Percentile(0.99); got != 99*time.Millisecond {
		t.Fatalf("p99 got %v, want 99ms", got)
	}
	if got := w.Percentile(1); got != 100*time.Millisecond {
		t.Fatalf("p100 got %v, want 100ms", got)
	}

	// 写满后环形覆盖，窗口只保留最近样本
	for i := 0; i < 100; i++ {
		w.Observe(time.Second)
	}
	if got := w.Percentile(0.5); got != time.Second {
		t.Fatalf("after overwrite p50 got %v, want 1s", got)
	}
	if w.Count() != 100 {
		t.Fatalf("count got %d, want 100", w.Count())
	}
}

func TestLatencyWindowEmpty(t *testing.T) {
	w := NewLatencyWindow(10)
	if got := w.Percentile(0.5); got != 0 {
		t.Fatalf("empty window got %v, want 0", got)
	}
}

func TestCollectorVariantLatency(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	for i := 1; i <= 100; i++ {
		c.ObserveLatency("exp1", "control", time.Duration(i)*time.Millisecond)
	}
	for i := 1; i <= 100; i++ {
		c.ObserveLatency("exp1", "treatment", time.Duration(i*10)*time.Millisecond)
	}
	c.ObserveLatency("", "", 5*time.Second)

	if got := c.VariantLatencyPercentile("exp1", "control", 0.5); got != 50*time.Millisecond {
		t.Fatalf("control p50 got %v, want 50ms", got)
	}
	if got := c.VariantLatencyPercentile("exp1", "treatment", 0.5); got != 500*time.Millisecond {
		t.Fatalf("treatment p50 got %v, want 500ms", got)
	}
	// 无实验请求只计入总体
	if got := c.VariantLatencyPercentile("", "", 0.5); got != 0 {
		t.Fatalf("empty experiment got %v, want 0", got)
	}
	if got := c.LatencyPercentile(1); got != 5*time.Second {
		t.Fatalf("overall p100 got %v, want 5s", got)
	}
}

func TestAnalyzerSignificantDifference(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	// control: 1000 曝光 50 转化；treatment: 1000 曝光 120 转化
	seed(t, c, "exp1", "control", 1000, 50)
	seed(t, c, "exp1", "treatment", 1000, 120)

	result, err := a.CompareConversion("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Significant {
		t.Fatalf("large lift must be significant: %+v", result)
	}
	if result.EffectSize <= 0 {
		t.Fatalf("effect size got %v, want positive", result.EffectSize)
	}
	if result.PValue >= 0.05 {
		t.Fatalf("p value got %v", result.PValue)
	}
	if result.ZScore <= 0 {
		t.Fatalf("z score got %v, want positive", result.ZScore)
	}
}

func TestAnalyzerNoDifference(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	seed(t, c, "exp1", "control", 1000, 100)
	seed(t, c, "exp1", "treatment", 1000, 100)

	result, err := a.CompareConversion("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if result.Significant {
		t.Fatalf("identical rates must not be significant: %+v", result)
	}
	if result.PValue != 1 {
		t.Fatalf("identical rates p value got %v, want 1", result.PValue)
	}
}

func TestAnalyzerUnderpowered(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	// 提升巨大但样本不足
	seed(t, c, "exp1", "control", 20, 1)
	seed(t, c, "exp1", "treatment", 20, 15)

	result, err := a.CompareConversion("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Underpowered {
		t.Fatal("small samples must be flagged underpowered")
	}
	if result.Significant {
		t.Fatal("underpowered comparison must never be significant")
	}
}

func TestAnalyzerClickThrough(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	// 点击率差异显著，转化率完全相同
	seedClicks(t, c, "exp1", "control", 1000, 100)
	seedClicks(t, c, "exp1", "treatment", 1000, 200)

	result, err := a.CompareClickThrough("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if result.Metric != "click_through_rate" {
		t.Fatalf("metric got %q", result.Metric)
	}
	if !result.Significant {
		t.Fatalf("large CTR lift must be significant: %+v", result)
	}
	if result.ControlRate != 0.1 || result.TreatmentRate != 0.2 {
		t.Fatalf("rates got %v / %v", result.ControlRate, result.TreatmentRate)
	}

	conv, err := a.CompareConversion("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Significant {
		t.Fatalf("zero conversions must not be significant: %+v", conv)
	}
}

func TestAnalyzerMinSampleOverride(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	seed(t, c, "exp1", "control", 50, 2)
	seed(t, c, "exp1", "treatment", 50, 30)

	// 默认门槛下样本不足
	byDefault, err := a.CompareConversion("exp1", "control", "treatment")
	if err != nil {
		t.Fatal(err)
	}
	if !byDefault.Underpowered {
		t.Fatal("50 impressions must be underpowered at default threshold")
	}

	// 实验自带的更低门槛下可以出结论
	relaxed, err := a.CompareWithMinSample("exp1", "control", "treatment", "conversion_rate", 40)
	if err != nil {
		t.Fatal(err)
	}
	if relaxed.Underpowered {
		t.Fatal("50 impressions must pass a threshold of 40")
	}
	if !relaxed.Significant {
		t.Fatalf("large lift must be significant: %+v", relaxed)
	}

	if _, err := a.CompareWithMinSample("exp1", "control", "treatment", "teleport_rate", 40); !core.IsValidation(err) {
		t.Fatalf("unknown metric must fail validation, got %v", err)
	}
}

func TestAnalyzerNeedsImpressions(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	a := NewAnalyzer(c, 100)

	seed(t, c, "exp1", "control", 10, 1)
	_, err := a.CompareConversion("exp1", "control", "treatment")
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func seed(t *testing.T, c *Collector, exp, variant string, impressions, conversions int) {
	t.Helper()
	for i := 0; i < impressions; i++ {
		if err := c.RecordOutcome(exp, variant, OutcomeImpression); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < conversions; i++ {
		if err := c.RecordOutcome(exp, variant, OutcomeConversion); err != nil {
			t.Fatal(err)
		}
	}
}

func seedClicks(t *testing.T, c *Collector, exp, variant string, impressions, clicks int) {
	t.Helper()
	for i := 0; i < impressions; i++ {
		if err := c.RecordOutcome(exp, variant, OutcomeImpression); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < clicks; i++ {
		if err := c.RecordOutcome(exp, variant, OutcomeClick); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCollectorTrainingRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTrainingRun(nil)
	c.RecordTrainingRun(core.NewDomainError(core.ModuleModel, core.ErrorCodeDivergence, "loss exploded"))
	c.RecordTrainingRun(core.NewDomainError(core.ModuleModel, core.ErrorCodeValidation, "no data"))

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "recore_training_runs_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					seen[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	want := map[string]float64{"success": 1, "divergence": 1, "failure": 1}
	for result, count := range want {
		if seen[result] != count {
			t.Errorf("result %q = %v, want %v", result, seen[result], count)
		}
	}
}
