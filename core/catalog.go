package core

import "context"

// ItemMetadata 是物品侧的结构化属性，用于内容推荐与多样性重排。
type ItemMetadata struct {
	ItemID   string   `json:"item_id" yaml:"item_id"`
	Category string   `json:"category" yaml:"category"`
	Brand    string   `json:"brand" yaml:"brand"`
	Tags     []string `json:"tags" yaml:"tags"`
	Price    float64  `json:"price" yaml:"price"`
}

// Catalog 是商品目录的领域接口。
//
// 目录是外部依赖：调用可能超时或失败，服务层会用熔断器包装它，
// 失败时整条内容信号降级，链路回退到行为信号与热门兜底。
type Catalog interface {
	// GetMetadata 批量读取物品元数据；缺失的物品不在返回 map 中。
	GetMetadata(ctx context.Context, itemIDs []string) (map[string]ItemMetadata, error)

	// ListActiveItems 返回当前可推荐的物品全集（召回候选池）。
	ListActiveItems(ctx context.Context) ([]string, error)
}

// FeatureSource 是在线特征的来源（如 Feast 等特征平台）。
// 返回的向量用于内容信号的余弦相似度计算。
type FeatureSource interface {
	// GetUserVector 读取用户画像向量；冷启动用户返回 ErrStoreNotFound。
	GetUserVector(ctx context.Context, userID string) (map[string]float64, error)

	// GetItemVectors 批量读取物品向量；缺失的物品不在返回 map 中。
	GetItemVectors(ctx context.Context, itemIDs []string) (map[string]map[string]float64, error)
}
