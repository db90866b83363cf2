package service

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rushteam/recore/core"
)

// DefaultCatalogTimeout 商品目录调用超时
const DefaultCatalogTimeout = 200 * time.Millisecond

// BreakerCatalog 用熔断器包装商品目录，目录抖动时快速失败，
// 由上层降级到热门兜底而不是拖垮整条请求链路。
type BreakerCatalog struct {
	inner   core.Catalog
	timeout time.Duration

	listCB *gobreaker.CircuitBreaker[[]string]
	metaCB *gobreaker.CircuitBreaker[map[string]core.ItemMetadata]
}

var _ core.Catalog = (*BreakerCatalog)(nil)

// NewBreakerCatalog 创建熔断目录。timeout<=0 时取默认超时。
func NewBreakerCatalog(inner core.Catalog, timeout time.Duration) *BreakerCatalog {
	if timeout <= 0 {
		timeout = DefaultCatalogTimeout
	}
	settings := gobreaker.Settings{
		Name:    "catalog",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerCatalog{
		inner:   inner,
		timeout: timeout,
		listCB:  gobreaker.NewCircuitBreaker[[]string](settings),
		metaCB:  gobreaker.NewCircuitBreaker[map[string]core.ItemMetadata](settings),
	}
}

// ListActiveItems 经熔断器透传候选列表。
func (c *BreakerCatalog) ListActiveItems(ctx context.Context) ([]string, error) {
	items, err := c.listCB.Execute(func() ([]string, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.inner.ListActiveItems(cctx)
	})
	if err != nil {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable, err.Error())
	}
	return items, nil
}

// GetMetadata 经熔断器透传元数据批量查询。
func (c *BreakerCatalog) GetMetadata(ctx context.Context, itemIDs []string) (map[string]core.ItemMetadata, error) {
	meta, err := c.metaCB.Execute(func() (map[string]core.ItemMetadata, error) {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.inner.GetMetadata(cctx, itemIDs)
	})
	if err != nil {
		return nil, core.NewDomainError(core.ModuleCatalog, core.ErrorCodeUnavailable, err.Error())
	}
	return meta, nil
}
