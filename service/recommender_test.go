package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recore/config"
	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/experiment"
	"github.com/rushteam/recore/metrics"
	"github.com/rushteam/recore/store"
)

type fakeCatalog struct {
	items map[string]core.ItemMetadata
	fail  bool
}

func (c *fakeCatalog) ListActiveItems(ctx context.Context) ([]string, error) {
	if c.fail {
		return nil, errors.New("catalog down")
	}
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *fakeCatalog) GetMetadata(ctx context.Context, itemIDs []string) (map[string]core.ItemMetadata, error) {
	if c.fail {
		return nil, errors.New("catalog down")
	}
	out := make(map[string]core.ItemMetadata, len(itemIDs))
	for _, id := range itemIDs {
		if meta, ok := c.items[id]; ok {
			out[id] = meta
		}
	}
	return out, nil
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{items: map[string]core.ItemMetadata{
		"i1": {ItemID: "i1", Category: "book"},
		"i2": {ItemID: "i2", Category: "book"},
		"i3": {ItemID: "i3", Category: "music"},
		"i4": {ItemID: "i4", Category: "music"},
		"i5": {ItemID: "i5", Category: "game"},
		"i6": {ItemID: "i6", Category: "game"},
	}}
}

func newTestRecommender(t *testing.T, cfg *config.Config, cat core.Catalog) *Recommender {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
		cfg.Trainer.Epochs = 5
		cfg.Blend.KMin = 2
	}
	r, err := New(Options{
		Config:  cfg,
		KV:      store.NewMemoryStore(),
		Catalog: cat,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func seed(t *testing.T, r *Recommender) {
	t.Helper()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	events := []core.Interaction{
		{UserID: "u1", ItemID: "i1", Type: core.InteractionView, Timestamp: base},
		{UserID: "u1", ItemID: "i2", Type: core.InteractionLike, Timestamp: base.Add(time.Hour)},
		{UserID: "u1", ItemID: "i3", Type: core.InteractionPurchase, Timestamp: base.Add(2 * time.Hour)},
		{UserID: "u2", ItemID: "i1", Type: core.InteractionView, Timestamp: base},
		{UserID: "u2", ItemID: "i2", Type: core.InteractionLike, Timestamp: base.Add(time.Hour)},
		{UserID: "u2", ItemID: "i4", Type: core.InteractionPurchase, Timestamp: base.Add(3 * time.Hour)},
		{UserID: "u3", ItemID: "i5", Type: core.InteractionView, Timestamp: base},
		{UserID: "u3", ItemID: "i6", Type: core.InteractionLike, Timestamp: base.Add(time.Hour)},
	}
	for _, in := range events {
		if err := r.log.Record(context.Background(), in); err != nil {
			t.Fatalf("record %s/%s: %v", in.UserID, in.ItemID, err)
		}
	}
}

func TestRecommendEndToEnd(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)
	if err := r.TrainNow(ctx); err != nil {
		t.Fatalf("TrainNow: %v", err)
	}

	res, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if res.RequestID == "" {
		t.Error("request id should be generated")
	}
	if res.Variant != "control" {
		t.Errorf("variant = %q, want control", res.Variant)
	}
	if res.CacheHit {
		t.Error("first call should not hit cache")
	}
	if len(res.Items) == 0 || len(res.Items) > 3 {
		t.Fatalf("got %d items, want 1..3", len(res.Items))
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].Score > res.Items[i-1].Score {
			t.Errorf("items not sorted by score: %v then %v",
				res.Items[i-1].Score, res.Items[i].Score)
		}
	}

	status := r.ModelStatus()
	if status.Version == 0 || status.Runs != 1 {
		t.Errorf("model status = %+v", status)
	}
}

func TestRecommendCacheHitAndInvalidation(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)

	first, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	second, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if !second.CacheHit {
		t.Fatal("second identical call should hit cache")
	}
	if len(second.Items) != len(first.Items) {
		t.Fatalf("cache returned %d items, want %d", len(second.Items), len(first.Items))
	}
	for i := range first.Items {
		if second.Items[i].ID != first.Items[i].ID {
			t.Errorf("cached item %d = %s, want %s", i, second.Items[i].ID, first.Items[i].ID)
		}
	}

	// 新交互写入后缓存失效
	err = r.log.Record(ctx, core.Interaction{
		UserID: "u1", ItemID: "i4", Type: core.InteractionView,
		Timestamp: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	third, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if third.CacheHit {
		t.Error("cache should be invalidated after new interaction")
	}
}

func TestRecommendPurchasedDefaultExcluded(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)

	res, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 6})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for _, it := range res.Items {
		if it.ID == "i3" {
			t.Error("purchased item i3 should be filtered by default")
		}
	}

	included, err := r.Recommend(ctx, &core.RecommendContext{
		UserID: "u1", Count: 6, IncludePurchased: true,
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	found := false
	for _, it := range included.Items {
		if it.ID == "i3" {
			found = true
		}
	}
	if !found {
		t.Error("IncludePurchased should keep purchased item i3")
	}
}

func TestRecommendBlacklist(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)
	r.BlockItem("i1")

	res, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u2", Count: 6})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	for _, it := range res.Items {
		if it.ID == "i1" {
			t.Error("blocked item i1 should be filtered")
		}
	}
}

func TestRecommendValidation(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())

	if _, err := r.Recommend(ctx, &core.RecommendContext{Count: 3}); !core.IsValidation(err) {
		t.Errorf("missing user: err = %v, want validation", err)
	}
	if _, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1"}); !core.IsValidation(err) {
		t.Errorf("zero count: err = %v, want validation", err)
	}
}

func TestRecommendCatalogFallback(t *testing.T) {
	ctx := context.Background()
	cat := testCatalog()
	r := newTestRecommender(t, nil, cat)
	seed(t, r) // 钩子把交互权重累进热门榜单

	cat.fail = true
	res, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u9", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if _, ok := res.Labels["degraded_catalog"]; !ok {
		t.Error("expected degraded_catalog label")
	}
	if len(res.Items) == 0 {
		t.Error("fallback should serve from popularity board")
	}
}

func TestRecommendExperimentSticky(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Trainer.Epochs = 5
	cfg.Blend.KMin = 2
	cfg.Blend.Variants["heavy_pop"] = map[string]float64{
		"collaborative": 0.2,
		"popularity":    0.8,
	}
	cfg.Experiments = []experiment.Experiment{{
		ID:     "blend-ab",
		Status: experiment.StatusRunning,
		Variants: []experiment.Variant{
			{Name: "control", Allocation: 0.5},
			{Name: "heavy_pop", Allocation: 0.5},
		},
		Default: "control",
	}}
	r := newTestRecommender(t, cfg, testCatalog())
	seed(t, r)

	first, err := r.Recommend(ctx, &core.RecommendContext{
		UserID: "u1", Count: 3, ExperimentID: "blend-ab",
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if first.Variant != "control" && first.Variant != "heavy_pop" {
		t.Fatalf("variant = %q", first.Variant)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Recommend(ctx, &core.RecommendContext{
			UserID: "u1", Count: 3, ExperimentID: "blend-ab",
		})
		if err != nil {
			t.Fatalf("Recommend: %v", err)
		}
		if again.Variant != first.Variant {
			t.Fatalf("assignment not sticky: %q then %q", first.Variant, again.Variant)
		}
	}

	unknown, err := r.Recommend(ctx, &core.RecommendContext{
		UserID: "u1", Count: 3, ExperimentID: "no-such-exp",
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if unknown.Variant != "control" {
		t.Errorf("unknown experiment variant = %q, want default", unknown.Variant)
	}
}

func TestIngestDrivesRecommendation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newTestRecommender(t, nil, testCatalog())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.ingestor.Run(ctx)
	}()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := r.RecordInteraction(ctx, core.Interaction{
		UserID: "u1", ItemID: "i1", Type: core.InteractionView, Timestamp: base,
	}); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for r.log.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("interaction not consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRecordInteractionRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())

	// 消费循环没有运行：非法事件必须在入队前被同步拒绝
	err := r.RecordInteraction(ctx, core.Interaction{
		UserID: "u1", ItemID: "i1", Type: "teleport",
	})
	if !core.IsValidation(err) {
		t.Fatalf("unknown type must fail validation, got %v", err)
	}
	if err := r.RecordInteraction(ctx, core.Interaction{
		ItemID: "i1", Type: core.InteractionView,
	}); !core.IsValidation(err) {
		t.Fatalf("missing user must fail validation, got %v", err)
	}
	if r.log.Len() != 0 {
		t.Fatalf("invalid events must not be recorded, len=%d", r.log.Len())
	}
}

func TestRecommendStableForColdUser(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)

	first, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u9", Count: 5})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(first.Items) == 0 {
		t.Fatal("cold user should still get a popularity ranked list")
	}

	// 缓存失效后重算，零交互用户的榜单必须保持稳定
	for i := 0; i < 3; i++ {
		if err := r.cache.InvalidateUser(ctx, "u9"); err != nil {
			t.Fatal(err)
		}
		again, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u9", Count: 5})
		if err != nil {
			t.Fatalf("Recommend: %v", err)
		}
		if again.CacheHit {
			t.Fatal("invalidation must force a recompute")
		}
		if len(again.Items) != len(first.Items) {
			t.Fatalf("recompute returned %d items, want %d", len(again.Items), len(first.Items))
		}
		for j := range first.Items {
			if again.Items[j].ID != first.Items[j].ID {
				t.Fatalf("recompute %d item %d = %s, want %s", i, j, again.Items[j].ID, first.Items[j].ID)
			}
		}
	}
}

func TestRecommendExposureSuppressionOptIn(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Trainer.Epochs = 5
	cfg.Blend.KMin = 2
	cfg.Filter.ExposureEnabled = true
	r := newTestRecommender(t, cfg, testCatalog())
	seed(t, r)

	first, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u9", Count: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if err := r.cache.InvalidateUser(ctx, "u9"); err != nil {
		t.Fatal(err)
	}
	second, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u9", Count: 2})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	shown := make(map[string]bool, len(first.Items))
	for _, it := range first.Items {
		shown[it.ID] = true
	}
	for _, it := range second.Items {
		if shown[it.ID] {
			t.Fatalf("exposure suppression enabled: item %s repeated", it.ID)
		}
	}
}

func TestRecommendCandidatesCarryMeta(t *testing.T) {
	ctx := context.Background()
	r := newTestRecommender(t, nil, testCatalog())
	seed(t, r)

	res, err := r.Recommend(ctx, &core.RecommendContext{UserID: "u1", Count: 3})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatal("expected items")
	}
	for _, it := range res.Items {
		if cat, _ := it.Meta["category"].(string); cat == "" {
			t.Fatalf("item %s missing category meta", it.ID)
		}
	}
}

func TestExperimentLifecycle(t *testing.T) {
	r := newTestRecommender(t, nil, testCatalog())

	exp := experiment.Experiment{
		ID:       "life",
		Variants: []experiment.Variant{{Name: "control", Allocation: 1}},
		Default:  "control",
	}
	if err := r.CreateExperiment(exp); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if err := r.CreateExperiment(exp); !core.IsDuplicate(err) {
		t.Fatalf("duplicate create must fail, got %v", err)
	}

	// 变体没有对应混排权重的实验拒绝创建
	bad := experiment.Experiment{
		ID:       "bad",
		Variants: []experiment.Variant{{Name: "ghost", Allocation: 1}},
	}
	if err := r.CreateExperiment(bad); !core.IsValidation(err) {
		t.Fatalf("unknown blend variant must fail validation, got %v", err)
	}

	// 状态机只允许 draft -> running -> completed
	if err := r.CompleteExperiment("life"); !core.IsValidation(err) {
		t.Fatalf("completing a draft must fail, got %v", err)
	}
	if err := r.StartExperiment("life"); err != nil {
		t.Fatalf("StartExperiment: %v", err)
	}
	if err := r.StartExperiment("life"); !core.IsValidation(err) {
		t.Fatalf("starting a running experiment must fail, got %v", err)
	}
	got, err := r.Experiment("life")
	if err != nil || got.Status != experiment.StatusRunning {
		t.Fatalf("Experiment: status=%s err=%v", got.Status, err)
	}
	if err := r.CompleteExperiment("life"); err != nil {
		t.Fatalf("CompleteExperiment: %v", err)
	}

	if err := r.StartExperiment("ghost"); !core.IsNotFound(err) {
		t.Fatalf("unknown experiment must be not found, got %v", err)
	}
}

func TestExperimentMetricsCounts(t *testing.T) {
	r := newTestRecommender(t, nil, testCatalog())

	exp := experiment.Experiment{
		ID:       "m1",
		Variants: []experiment.Variant{{Name: "control", Allocation: 1}},
		Default:  "control",
	}
	if err := r.CreateExperiment(exp); err != nil {
		t.Fatal(err)
	}
	if err := r.TrackOutcome("m1", "control", metrics.OutcomeImpression); err != nil {
		t.Fatal(err)
	}
	if err := r.TrackOutcome("m1", "control", metrics.OutcomeConversion); err != nil {
		t.Fatal(err)
	}

	report, err := r.ExperimentMetrics("m1")
	if err != nil {
		t.Fatalf("ExperimentMetrics: %v", err)
	}
	got := report.Variants["control"].Counts
	if got.Impressions != 1 || got.Conversions != 1 {
		t.Fatalf("counts = %+v", got)
	}

	if _, err := r.ExperimentMetrics("none"); !core.IsNotFound(err) {
		t.Fatalf("unknown experiment must be not found, got %v", err)
	}
}

func TestExperimentMetricsSignificance(t *testing.T) {
	cfg := config.Default()
	cfg.Trainer.Epochs = 5
	cfg.Blend.KMin = 2
	cfg.Blend.Variants["heavy_pop"] = map[string]float64{
		"collaborative": 0.2,
		"popularity":    0.8,
	}
	r := newTestRecommender(t, cfg, testCatalog())

	exp := experiment.Experiment{
		ID: "sig",
		Variants: []experiment.Variant{
			{Name: "control", Allocation: 0.5},
			{Name: "heavy_pop", Allocation: 0.5},
		},
		Default:       "control",
		MinSampleSize: 50,
		Metrics:       []string{"click_through_rate"},
	}
	if err := r.CreateExperiment(exp); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		if err := r.TrackOutcome("sig", "control", metrics.OutcomeImpression); err != nil {
			t.Fatal(err)
		}
		if err := r.TrackOutcome("sig", "heavy_pop", metrics.OutcomeImpression); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		if err := r.TrackOutcome("sig", "control", metrics.OutcomeClick); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 30; i++ {
		if err := r.TrackOutcome("sig", "heavy_pop", metrics.OutcomeClick); err != nil {
			t.Fatal(err)
		}
	}

	report, err := r.ExperimentMetrics("sig")
	if err != nil {
		t.Fatalf("ExperimentMetrics: %v", err)
	}
	if len(report.Significance) != 1 {
		t.Fatalf("significance entries = %d, want 1: %+v", len(report.Significance), report.Significance)
	}
	cmp := report.Significance[0]
	if cmp.Metric != "click_through_rate" || cmp.Treatment != "heavy_pop" {
		t.Fatalf("comparison = %+v", cmp)
	}
	if cmp.Underpowered {
		t.Fatal("100 impressions must satisfy the experiment's min sample size of 50")
	}
	if !cmp.Significant {
		t.Fatalf("tripled CTR must be significant: %+v", cmp)
	}
}

func TestExperimentVariantLatencyTracked(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Trainer.Epochs = 5
	cfg.Blend.KMin = 2
	cfg.Experiments = []experiment.Experiment{{
		ID:       "lat",
		Status:   experiment.StatusRunning,
		Variants: []experiment.Variant{{Name: "control", Allocation: 1}},
		Default:  "control",
	}}
	r := newTestRecommender(t, cfg, testCatalog())
	seed(t, r)

	if _, err := r.Recommend(ctx, &core.RecommendContext{
		UserID: "u1", Count: 3, ExperimentID: "lat",
	}); err != nil {
		t.Fatalf("Recommend: %v", err)
	}

	report, err := r.ExperimentMetrics("lat")
	if err != nil {
		t.Fatalf("ExperimentMetrics: %v", err)
	}
	if report.Variants["control"].LatencyP50 <= 0 {
		t.Fatalf("variant latency must be tracked, got %+v", report.Variants["control"])
	}
}

func TestBuildStore(t *testing.T) {
	cfg := config.Default()
	kv, err := BuildStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kv.(*store.MemoryStore); !ok {
		t.Fatalf("memory backend got %T", kv)
	}

	cfg.Store.Backend = "bogus"
	if _, err := BuildStore(cfg); err == nil {
		t.Fatal("unknown backend must fail")
	}
}
