package metrics

import (
	"sort"
	"sync"
	"time"
)

// LatencyWindow 是定长环形缓冲，保存最近 N 次耗时用于分位数统计。
// 写路径 O(1)，分位数查询才排序。
type LatencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

// NewLatencyWindow 创建环形缓冲，size <= 0 时默认 1024。
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 1024
	}
	return &LatencyWindow{samples: make([]time.Duration, size)}
}

// Observe 记录一次耗时。
func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// Percentile 返回 p ∈ (0,1] 分位的耗时；无样本时返回 0。
func (w *LatencyWindow) Percentile(p float64) time.Duration {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		w.mu.Unlock()
		return 0
	}
	snapshot := make([]time.Duration, n)
	copy(snapshot, w.samples[:n])
	w.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	if p <= 0 {
		return snapshot[0]
	}
	if p >= 1 {
		return snapshot[n-1]
	}
	idx := int(p*float64(n)) - 1
	if idx < 0 {
		idx = 0
	}
	return snapshot[idx]
}

// Count 返回窗口内的样本数。
func (w *LatencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled {
		return len(w.samples)
	}
	return w.next
}
