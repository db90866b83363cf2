package experiment

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/store"
)

func runningExperiment() *Experiment {
	return &Experiment{
		ID:     "exp-blend",
		Status: StatusRunning,
		Variants: []Variant{
			{Name: "control", Allocation: 0.5},
			{Name: "treatment", Allocation: 0.5},
		},
		Default: "control",
	}
}

func TestExperimentValidate(t *testing.T) {
	cases := []struct {
		name string
		exp  Experiment
		ok   bool
	}{
		{"valid", *runningExperiment(), true},
		{"missing id", Experiment{Variants: []Variant{{Name: "a", Allocation: 1}}}, false},
		{"no variants", Experiment{ID: "e"}, false},
		{"bad sum", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 0.5}, {Name: "b", Allocation: 0.4}}}, false},
		{"tolerant sum", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 0.5}, {Name: "b", Allocation: 0.5005}}}, true},
		{"duplicate variant", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 0.5}, {Name: "a", Allocation: 0.5}}}, false},
		{"unknown default", Experiment{ID: "e", Default: "ghost", Variants: []Variant{{Name: "a", Allocation: 1}}}, false},
		{"negative allocation", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 1.5}, {Name: "b", Allocation: -0.5}}}, false},
		{"inverted window", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 1}},
			StartAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), EndAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}, false},
		{"negative min sample", Experiment{ID: "e", Variants: []Variant{{Name: "a", Allocation: 1}}, MinSampleSize: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.exp.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !core.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRouterDeterministic(t *testing.T) {
	ctx := context.Background()
	exp := runningExperiment()

	// 两个独立 Router（独立存储）对同一用户必须分到同一变体
	r1 := NewRouter(store.NewMemoryStore())
	r2 := NewRouter(store.NewMemoryStore())

	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("user-%d", i)
		v1, err := r1.Assign(ctx, user, exp)
		if err != nil {
			t.Fatal(err)
		}
		v2, err := r2.Assign(ctx, user, exp)
		if err != nil {
			t.Fatal(err)
		}
		if v1 != v2 {
			t.Fatalf("user %s: %s vs %s", user, v1, v2)
		}
	}
}

func TestRouterIdempotentExposure(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	r := NewRouter(kv)
	exp := runningExperiment()

	first, err := r.Assign(ctx, "u1", exp)
	if err != nil {
		t.Fatal(err)
	}

	// 调整流量后已曝光用户分组不变
	exp.Variants = []Variant{
		{Name: "control", Allocation: 0.01},
		{Name: "treatment", Allocation: 0.99},
	}
	for i := 0; i < 5; i++ {
		again, err := r.Assign(ctx, "u1", exp)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("exposure must be sticky: %s vs %s", again, first)
		}
	}

	exposures, err := r.Exposures(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if exposures["u1"] != first {
		t.Fatalf("exposure record got %v", exposures)
	}
}

func TestRouterAllocationRoughlyRespected(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(store.NewMemoryStore())
	exp := &Experiment{
		ID:     "exp-split",
		Status: StatusRunning,
		Variants: []Variant{
			{Name: "a", Allocation: 0.9},
			{Name: "b", Allocation: 0.1},
		},
	}

	counts := map[string]int{}
	const n = 2000
	for i := 0; i < n; i++ {
		v, err := r.Assign(ctx, fmt.Sprintf("user-%d", i), exp)
		if err != nil {
			t.Fatal(err)
		}
		counts[v]++
	}
	gotA := float64(counts["a"]) / n
	if math.Abs(gotA-0.9) > 0.05 {
		t.Fatalf("variant a share got %v, want ~0.9", gotA)
	}
}

func TestRouterNonRunningUsesDefault(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	r := NewRouter(kv)

	exp := runningExperiment()
	exp.Status = StatusDraft
	v, err := r.Assign(ctx, "u1", exp)
	if err != nil {
		t.Fatal(err)
	}
	if v != "control" {
		t.Fatalf("draft experiment must use default, got %s", v)
	}

	// 非运行态不落首曝记录
	exposures, err := r.Exposures(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(exposures) != 0 {
		t.Fatalf("draft experiment must not persist exposures: %v", exposures)
	}
}

func TestExperimentActiveWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	exp := runningExperiment()
	exp.StartAt = start
	exp.EndAt = end

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", start.Add(-time.Hour), false},
		{"at start", start, true},
		{"inside", start.Add(24 * time.Hour), true},
		{"at end", end, false},
		{"after end", end.Add(time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exp.Active(tc.now); got != tc.want {
				t.Fatalf("Active(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}

	// 零值窗口不限
	open := runningExperiment()
	if !open.Active(start.Add(-1000 * time.Hour)) {
		t.Fatal("zero window must always be active")
	}
}

func TestRouterOutsideWindowUsesDefault(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	r := NewRouter(kv)

	exp := runningExperiment()
	exp.StartAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	exp.EndAt = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	restore := nowFunc
	defer func() { nowFunc = restore }()

	nowFunc = func() time.Time { return exp.EndAt.Add(time.Hour) }
	v, err := r.Assign(ctx, "u1", exp)
	if err != nil {
		t.Fatal(err)
	}
	if v != "control" {
		t.Fatalf("expired experiment must use default, got %s", v)
	}
	exposures, err := r.Exposures(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(exposures) != 0 {
		t.Fatalf("expired experiment must not persist exposures: %v", exposures)
	}

	// 窗口内正常分流
	nowFunc = func() time.Time { return exp.StartAt.Add(time.Hour) }
	if _, err := r.Assign(ctx, "u1", exp); err != nil {
		t.Fatal(err)
	}
	exposures, err = r.Exposures(ctx, exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(exposures) != 1 {
		t.Fatalf("in-window assignment must persist exposure: %v", exposures)
	}
}
