package config

import (
	"github.com/rushteam/recore/filter"
	"github.com/rushteam/recore/pipeline"
	"github.com/rushteam/recore/pkg/conv"
	"github.com/rushteam/recore/rerank"
)

// 纯配置即可构建的内置节点。
func init() {
	Register("rerank.topn", func(cfg map[string]any) (pipeline.Node, error) {
		return &rerank.TopNNode{N: conv.ConfigGetInt(cfg, "n", 0)}, nil
	})
	Register("rerank.diversity", func(cfg map[string]any) (pipeline.Node, error) {
		return &rerank.DiversityNode{MaxRun: conv.ConfigGetInt(cfg, "max_run", 0)}, nil
	})
	Register("filter.rule", func(cfg map[string]any) (pipeline.Node, error) {
		expr := conv.ConfigGet(cfg, "expr", "")
		return &filter.FilterNode{Filters: []filter.Filter{
			&filter.RuleFilter{Expr: expr},
		}}, nil
	})
	Register("filter.blacklist", func(cfg map[string]any) (pipeline.Node, error) {
		raw := conv.ConfigGet(cfg, "items", []any(nil))
		items := conv.ConvertSlice(raw, func(v any) (string, bool) {
			s, ok := v.(string)
			return s, ok
		})
		return &filter.FilterNode{Filters: []filter.Filter{
			filter.NewBlacklistFilter(items...),
		}}, nil
	})
}
