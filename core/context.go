package core

import "github.com/rushteam/recore/pkg/utils"

// RecommendContext 是一次推荐请求的上下文，贯穿整条链路。
type RecommendContext struct {
	// RequestID 单次请求的追踪 ID（service 层生成）。
	RequestID string
	// UserID 请求用户。
	UserID string
	// Count 期望返回的物品数，必须 > 0。
	Count int
	// ExperimentID 本次请求参与的实验；为空表示不走实验分流。
	ExperimentID string
	// Variant 实验分流结果（router 填充），决定混排权重。
	Variant string
	// IncludePurchased 是否保留已购物品，默认过滤。
	IncludePurchased bool
	// Params 请求级参数，节点可按需读取。
	Params map[string]any
	// Labels 请求级标记（降级、缓存命中等），会回传给调用方。
	Labels map[string]utils.Label
}

// PutLabel 请求级打标，同名按来源合并。
func (rc *RecommendContext) PutLabel(key string, label utils.Label) {
	if rc.Labels == nil {
		rc.Labels = make(map[string]utils.Label)
	}
	if old, ok := rc.Labels[key]; ok {
		rc.Labels[key] = utils.MergeLabel(old, label)
		return
	}
	rc.Labels[key] = label
}

// Param 读取请求参数，不存在时返回零值。
func (rc *RecommendContext) Param(key string) (any, bool) {
	if rc.Params == nil {
		return nil, false
	}
	v, ok := rc.Params[key]
	return v, ok
}

// Validate 校验请求上下文。
func (rc *RecommendContext) Validate() error {
	if rc.UserID == "" {
		return NewDomainError(ModuleService, ErrorCodeValidation, "user_id is required")
	}
	if rc.Count <= 0 {
		return NewDomainError(ModuleService, ErrorCodeValidation, "count must be positive")
	}
	return nil
}
