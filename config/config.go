// Package config 提供服务级 YAML 配置的加载与校验。
package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/experiment"
	"github.com/rushteam/recore/model"
)

// Config 是推荐服务的完整配置。
type Config struct {
	Store struct {
		// Backend: memory / redis
		Backend   string `yaml:"backend"`
		RedisAddr string `yaml:"redis_addr"`
		RedisDB   int    `yaml:"redis_db"`
	} `yaml:"store"`

	Trainer model.TrainerConfig `yaml:"trainer"`

	Interactions struct {
		// Weights 覆盖默认交互权重表，空表使用内置默认值
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"interactions"`

	// TrainIntervalSeconds 全量重训周期
	TrainIntervalSeconds int `yaml:"train_interval_seconds"`

	// RetrainThresholdEvents 累计新事件达到该数量时提前重训，0 表示只按周期
	RetrainThresholdEvents int `yaml:"retrain_threshold_events"`

	Feature struct {
		// HalfLifeDays 交互权重的半衰期（天）
		HalfLifeDays float64 `yaml:"half_life_days"`
	} `yaml:"feature"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Blend struct {
		DefaultVariant string `yaml:"default_variant"`
		KMin           int    `yaml:"k_min"`
		// ScorerTimeoutMillis 单个信号源打分的超时，0 表示不限制
		ScorerTimeoutMillis int                           `yaml:"scorer_timeout_millis"`
		Variants            map[string]map[string]float64 `yaml:"variants"`
	} `yaml:"blend"`

	Experiments []experiment.Experiment `yaml:"experiments"`

	Ingest struct {
		UpdatesPerSecond float64 `yaml:"updates_per_second"`
		Buffer           int     `yaml:"buffer"`
	} `yaml:"ingest"`

	Popularity struct {
		DecayFactor          float64 `yaml:"decay_factor"`
		DecayIntervalSeconds int     `yaml:"decay_interval_seconds"`
	} `yaml:"popularity"`

	Filter struct {
		// RuleExpr 规则过滤的 CEL 表达式，空表达式不启用
		RuleExpr string `yaml:"rule_expr"`
		// ExposureEnabled 是否压制已推荐过的物品，默认关闭：
		// 重复请求应当拿到稳定的榜单，压制只适合信息流场景
		ExposureEnabled bool `yaml:"exposure_enabled"`
		// ExposureCapacity 单用户曝光布隆过滤器容量
		ExposureCapacity uint `yaml:"exposure_capacity"`
		// ExposureFPRate 布隆过滤器误判率
		ExposureFPRate float64 `yaml:"exposure_fp_rate"`
	} `yaml:"filter"`

	Metrics struct {
		MinSampleSize int64 `yaml:"min_sample_size"`
	} `yaml:"metrics"`
}

// Default 返回带默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.Store.Backend = "memory"
	cfg.Trainer = model.DefaultTrainerConfig()
	cfg.TrainIntervalSeconds = 3600
	cfg.RetrainThresholdEvents = 1000
	cfg.Feature.HalfLifeDays = 30
	cfg.Cache.TTLSeconds = 1800
	cfg.Blend.DefaultVariant = "control"
	cfg.Blend.KMin = 3
	cfg.Blend.ScorerTimeoutMillis = 150
	cfg.Blend.Variants = map[string]map[string]float64{
		"control": {
			"collaborative": 0.6,
			"neighborhood":  0.1,
			"factorization": 0.2,
			"content":       0.1,
		},
	}
	cfg.Ingest.UpdatesPerSecond = 10
	cfg.Ingest.Buffer = 1024
	cfg.Popularity.DecayFactor = 0.98
	cfg.Popularity.DecayIntervalSeconds = 3600
	cfg.Filter.ExposureCapacity = 10000
	cfg.Filter.ExposureFPRate = 0.01
	cfg.Metrics.MinSampleSize = 100
	return cfg
}

// Load 从 YAML 文件加载配置，未写的字段取默认值。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的合法性。
// 变体权重和与信号名的细致校验由混排节点在构建时完成。
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("config: redis backend requires redis_addr")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}

	if _, ok := c.Blend.Variants[c.Blend.DefaultVariant]; !ok {
		return fmt.Errorf("config: default variant %q not in blend.variants", c.Blend.DefaultVariant)
	}
	if c.Feature.HalfLifeDays <= 0 {
		return fmt.Errorf("config: half_life_days must be positive")
	}
	for typ, w := range c.Interactions.Weights {
		if w <= 0 {
			return fmt.Errorf("config: interaction weight for %q must be positive", typ)
		}
	}
	if c.Popularity.DecayFactor <= 0 || c.Popularity.DecayFactor >= 1 {
		return fmt.Errorf("config: popularity decay_factor must be in (0,1)")
	}
	for i := range c.Experiments {
		if err := c.Experiments[i].Validate(); err != nil {
			return err
		}
		// 实验变体必须有对应的混排权重
		for _, v := range c.Experiments[i].Variants {
			if _, ok := c.Blend.Variants[v.Name]; !ok {
				return fmt.Errorf("config: experiment %s variant %q has no blend weights",
					c.Experiments[i].ID, v.Name)
			}
		}
	}
	return nil
}

// Lambda 返回由半衰期换算的时间衰减系数（1/秒）。
func (c *Config) Lambda() float64 {
	return math.Ln2 / (c.Feature.HalfLifeDays * 24 * 3600)
}

// WeightTable 返回生效的交互权重表：配置覆盖项叠加在默认表上。
func (c *Config) WeightTable() core.WeightTable {
	table := core.DefaultWeightTable()
	for typ, w := range c.Interactions.Weights {
		table[core.InteractionType(typ)] = w
	}
	return table
}
