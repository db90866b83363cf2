package experiment

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"time"

	"github.com/rushteam/recore/core"
)

const exposurePrefix = "recore:exp:"

var nowFunc = time.Now

// buckets 分桶粒度：万分位。
const buckets = 10000

// Router 把用户确定性地分配到实验变体。
//
// 分桶：md5(userID:experimentID) 取前 8 字节模 10000，
// 落在按变体名升序累计的流量区间里。同一 (用户, 实验) 永远同桶。
//
// 首曝持久化：第一次分流结果写入 KV 哈希，之后一律读已存分组。
// 实验中途调整流量占比不会迁移已曝光用户。
type Router struct {
	kv core.KeyValueStore
}

// NewRouter 创建分流器。
func NewRouter(kv core.KeyValueStore) *Router {
	return &Router{kv: kv}
}

// Assign 返回用户在实验中的变体。
//
//   - 实验非运行态或不在投放窗口内：返回默认变体，不持久化
//   - 已有首曝记录：直接返回记录的变体（幂等）
//   - 否则分桶、持久化并返回
func (r *Router) Assign(ctx context.Context, userID string, exp *Experiment) (string, error) {
	if err := exp.Validate(); err != nil {
		return "", err
	}
	if exp.Status != StatusRunning || !exp.Active(nowFunc()) {
		return exp.DefaultVariant(), nil
	}

	stored, err := r.kv.HGet(ctx, exposurePrefix+exp.ID, userID)
	if err == nil {
		return string(stored), nil
	}
	if !core.IsStoreNotFound(err) {
		return "", core.NewDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable,
			"experiment: exposure store unavailable: "+err.Error())
	}

	variant := bucketVariant(userID, exp)
	if err := r.kv.HSet(ctx, exposurePrefix+exp.ID, userID, []byte(variant)); err != nil {
		return "", core.NewDomainError(core.ModuleExperiment, core.ErrorCodeUnavailable,
			"experiment: exposure store unavailable: "+err.Error())
	}
	return variant, nil
}

// Exposures 返回实验的全部首曝记录：userID -> variant。
func (r *Router) Exposures(ctx context.Context, experimentID string) (map[string]string, error) {
	raw, err := r.kv.HGetAll(ctx, exposurePrefix+experimentID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for user, variant := range raw {
		out[user] = string(variant)
	}
	return out, nil
}

// bucketVariant 纯函数分桶，不读写任何状态。
func bucketVariant(userID string, exp *Experiment) string {
	sum := md5.Sum([]byte(userID + ":" + exp.ID))
	bucket := binary.BigEndian.Uint64(sum[:8]) % buckets
	point := float64(bucket) / buckets

	var cumulative float64
	vs := exp.sortedVariants()
	for _, v := range vs {
		cumulative += v.Allocation
		if point < cumulative {
			return v.Name
		}
	}
	// 浮点累计误差兜底：落在最后一个变体
	return vs[len(vs)-1].Name
}
