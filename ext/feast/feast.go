// Package feast 把 Feast 特征平台适配为 core.FeatureSource。
//
// 内容信号默认用商品目录元数据做 one-hot 编码；接入 Feast 后
// 可以换成特征平台维护的稠密向量（用户画像、物品 embedding 等）。
package feast

import (
	"context"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"

	"github.com/rushteam/recore/core"
)

// Client 是 Feast 在线特征查询的最小接口，官方 SDK 的
// GrpcClient 天然满足，也便于测试替换。
type Client interface {
	GetOnlineFeatures(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) (*feastsdk.OnlineFeaturesResponse, error)
}

// Mapping 描述实体键与特征引用的映射。
type Mapping struct {
	Project string
	// UserEntityKey 默认 "user_id"
	UserEntityKey string
	// ItemEntityKey 默认 "item_id"
	ItemEntityKey string
	// UserFeatures 形如 "user_profile:category_affinity"
	UserFeatures []string
	// ItemFeatures 形如 "item_embedding:dim_0"
	ItemFeatures []string
}

// Source 实现 core.FeatureSource。
type Source struct {
	client  Client
	mapping Mapping
}

var _ core.FeatureSource = (*Source)(nil)

// NewSource 创建 Feast 特征源。
func NewSource(client Client, mapping Mapping) *Source {
	if mapping.UserEntityKey == "" {
		mapping.UserEntityKey = "user_id"
	}
	if mapping.ItemEntityKey == "" {
		mapping.ItemEntityKey = "item_id"
	}
	return &Source{client: client, mapping: mapping}
}

// NewGrpcSource 连接 Feast Feature Server 并创建特征源。
func NewGrpcSource(host string, port int, mapping Mapping) (*Source, error) {
	if port == 0 {
		port = 6565
	}
	client, err := feastsdk.NewGrpcClient(host, port)
	if err != nil {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable,
			"feast: connect: "+err.Error())
	}
	return NewSource(client, mapping), nil
}

// GetUserVector 查询单个用户的特征向量。
func (s *Source) GetUserVector(ctx context.Context, userID string) (map[string]float64, error) {
	if len(s.mapping.UserFeatures) == 0 {
		return map[string]float64{}, nil
	}
	rows, err := s.fetch(ctx, s.mapping.UserFeatures,
		[]feastsdk.Row{{s.mapping.UserEntityKey: feastsdk.StrVal(userID)}})
	if err != nil {
		return nil, err
	}
	return vectorFromRow(rows[0], s.mapping.UserFeatures), nil
}

// GetItemVectors 批量查询物品特征向量，结果按请求顺序对齐。
func (s *Source) GetItemVectors(ctx context.Context, itemIDs []string) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64, len(itemIDs))
	if len(s.mapping.ItemFeatures) == 0 || len(itemIDs) == 0 {
		return out, nil
	}
	entities := make([]feastsdk.Row, len(itemIDs))
	for i, id := range itemIDs {
		entities[i] = feastsdk.Row{s.mapping.ItemEntityKey: feastsdk.StrVal(id)}
	}
	rows, err := s.fetch(ctx, s.mapping.ItemFeatures, entities)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(itemIDs) {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable,
			"feast: response row count mismatch")
	}
	for i, id := range itemIDs {
		out[id] = vectorFromRow(rows[i], s.mapping.ItemFeatures)
	}
	return out, nil
}

func (s *Source) fetch(ctx context.Context, features []string, entities []feastsdk.Row) ([]feastsdk.Row, error) {
	resp, err := s.client.GetOnlineFeatures(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: features,
		Entities: entities,
		Project:  s.mapping.Project,
	})
	if err != nil {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable,
			"feast: get online features: "+err.Error())
	}
	rows := resp.Rows()
	if len(rows) == 0 {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable,
			"feast: empty response")
	}
	return rows, nil
}

// vectorFromRow 把一行特征值收敛为数值向量，非数值与缺失特征跳过。
func vectorFromRow(row feastsdk.Row, features []string) map[string]float64 {
	vec := make(map[string]float64, len(features))
	for _, name := range features {
		v, ok := row[name]
		if !ok || v == nil {
			continue
		}
		if f, ok := valueToFloat64(v); ok {
			vec[name] = f
		}
	}
	return vec
}

func valueToFloat64(v *types.Value) (float64, bool) {
	switch w := v.Val.(type) {
	case *types.Value_DoubleVal:
		return w.DoubleVal, true
	case *types.Value_FloatVal:
		return float64(w.FloatVal), true
	case *types.Value_Int64Val:
		return float64(w.Int64Val), true
	case *types.Value_Int32Val:
		return float64(w.Int32Val), true
	case *types.Value_BoolVal:
		if w.BoolVal {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
