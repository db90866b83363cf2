package core

import (
	"fmt"
	"time"
)

// InteractionType 是用户行为类型。
type InteractionType string

const (
	InteractionView     InteractionType = "view"
	InteractionLike     InteractionType = "like"
	InteractionCart     InteractionType = "cart"
	InteractionPurchase InteractionType = "purchase"
	InteractionWishlist InteractionType = "wishlist"
	InteractionReview   InteractionType = "review"
	InteractionShare    InteractionType = "share"
)

// Interaction 是一条用户-物品交互事件，写入后不可变。
// 交互存储（interaction 包）是它的唯一 Owner；流式摄入（ingest 包）负责创建。
type Interaction struct {
	UserID    string          `json:"user_id"`
	ItemID    string          `json:"item_id"`
	Type      InteractionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// TupleKey 返回交互的幂等去重键。
// 外部事件源是 at-least-once 投递，完全相同的 (user,item,type,timestamp)
// 四元组视为同一事件，只记录一次。
func (i Interaction) TupleKey() string {
	return i.UserID + "\x00" + i.ItemID + "\x00" + string(i.Type) + "\x00" +
		i.Timestamp.UTC().Format(time.RFC3339Nano)
}

// WeightTable 是交互类型到基础权重的固定映射，进程级常量配置。
type WeightTable map[InteractionType]float64

// DefaultWeightTable 返回默认权重表。
// view=1 / like=2 / cart=3 / purchase=5 是主信号，
// wishlist / review / share 是补充信号。
func DefaultWeightTable() WeightTable {
	return WeightTable{
		InteractionView:     1,
		InteractionLike:     2,
		InteractionCart:     3,
		InteractionPurchase: 5,
		InteractionWishlist: 2.5,
		InteractionReview:   4,
		InteractionShare:    3,
	}
}

// Weight 返回交互类型的基础权重；未知类型返回 VALIDATION 错误。
func (t WeightTable) Weight(typ InteractionType) (float64, error) {
	w, ok := t[typ]
	if !ok {
		return 0, NewDomainError(ModuleInteraction, ErrorCodeValidation,
			fmt.Sprintf("interaction: unknown type %q", typ))
	}
	return w, nil
}

// Validate 校验一条交互事件：类型必须在权重表内，用户 / 物品 ID 非空。
func (t WeightTable) Validate(in Interaction) error {
	if in.UserID == "" || in.ItemID == "" {
		return NewDomainError(ModuleInteraction, ErrorCodeValidation,
			"interaction: user_id and item_id are required")
	}
	_, err := t.Weight(in.Type)
	return err
}

// MaxWeight 返回权重表中的最大基础权重（用于热门分数归一化等场景）。
func (t WeightTable) MaxWeight() float64 {
	var max float64
	for _, w := range t {
		if w > max {
			max = w
		}
	}
	return max
}
