// Package service 组装推荐服务门面：
// 交互摄入、模型调度、实验分流、缓存读穿与混排链路在这里接线。
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/recore/cache"
	"github.com/rushteam/recore/config"
	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/experiment"
	"github.com/rushteam/recore/feature"
	"github.com/rushteam/recore/filter"
	"github.com/rushteam/recore/ingest"
	"github.com/rushteam/recore/interaction"
	"github.com/rushteam/recore/metrics"
	"github.com/rushteam/recore/model"
	"github.com/rushteam/recore/pipeline"
	"github.com/rushteam/recore/pkg/utils"
	"github.com/rushteam/recore/rank"
	"github.com/rushteam/recore/rerank"
	"github.com/rushteam/recore/scorer"
)

// Options 是构建 Recommender 的依赖注入口。
type Options struct {
	// Config 为空时使用默认配置
	Config *config.Config
	// KV 结果缓存、热门榜单与实验曝光的存储
	KV core.KeyValueStore
	// Catalog 商品目录，内部会自动包一层熔断器
	Catalog core.Catalog
	// Features 可选的远程特征平台（如 Feast）
	Features core.FeatureSource
	// Registerer 为空时不注册 Prometheus 指标
	Registerer prometheus.Registerer
	Logger     zerolog.Logger
}

// Result 是一次推荐请求的返回。
type Result struct {
	RequestID string
	UserID    string
	Variant   string
	Items     []*core.Item
	CacheHit  bool
	Labels    map[string]utils.Label
}

// Recommender 是推荐服务门面。
type Recommender struct {
	cfg *config.Config

	log       *interaction.Log
	publisher *model.Publisher
	scheduler *model.Scheduler
	ingestor  *ingest.Ingestor

	cache  *cache.ResultCache
	router *experiment.Router

	expMu       sync.RWMutex
	experiments map[string]*experiment.Experiment

	collector  *metrics.Collector
	analyzer   *metrics.Analyzer
	popularity *scorer.Popularity
	exposed    *filter.ExposedFilter
	blacklist  *filter.BlacklistFilter
	pipe       *pipeline.Pipeline

	logger zerolog.Logger
}

// New 按配置组装整条推荐链路。
func New(opts Options) (*Recommender, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.KV == nil {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
			"service: kv store is required")
	}
	if opts.Catalog == nil {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeValidation,
			"service: catalog is required")
	}

	log := interaction.NewLog(cfg.WeightTable())
	builder := feature.NewBuilder(log.Weights(), cfg.Lambda())
	publisher := model.NewPublisher()
	trainer := model.NewTrainer(cfg.Trainer)
	scheduler := model.NewScheduler(log, builder, trainer, publisher,
		time.Duration(cfg.TrainIntervalSeconds)*time.Second, opts.Logger)
	scheduler.RetrainThreshold = cfg.RetrainThresholdEvents
	updater := model.NewUpdater(publisher, cfg.Trainer)
	ingestor := ingest.NewIngestor(log, updater, cfg.Ingest.UpdatesPerSecond, cfg.Ingest.Buffer, opts.Logger)

	catalog := NewBreakerCatalog(opts.Catalog, 0)
	resultCache := cache.NewResultCache(opts.KV, cfg.Cache.TTLSeconds)
	collector := metrics.NewCollector(opts.Registerer)
	scheduler.OnResult = collector.RecordTrainingRun
	popularity := &scorer.Popularity{KV: opts.KV}
	vecCache := feature.NewMemoryVectorCache(4096, 10*time.Minute)

	scorers := []core.Scorer{
		&scorer.Collaborative{Source: publisher},
		&scorer.Neighborhood{Log: log, Builder: builder},
		&scorer.Factorization{Source: publisher},
		&scorer.Content{Log: log, Builder: builder, Catalog: catalog, Source: opts.Features, Cache: vecCache},
		popularity,
	}
	blender, err := rank.NewBlender(scorers, cfg.Blend.Variants, cfg.Blend.DefaultVariant, log, cfg.Blend.KMin)
	if err != nil {
		return nil, err
	}
	blender.ScorerTimeout = time.Duration(cfg.Blend.ScorerTimeoutMillis) * time.Millisecond

	blacklist := filter.NewBlacklistFilter()
	filters := []filter.Filter{
		blacklist,
		&filter.PurchasedFilter{Store: log},
	}
	// 曝光压制默认关闭：同一用户的重复请求应拿到稳定榜单
	var exposed *filter.ExposedFilter
	if cfg.Filter.ExposureEnabled {
		exposed = filter.NewExposedFilter(cfg.Filter.ExposureCapacity, cfg.Filter.ExposureFPRate)
		filters = append(filters, exposed)
	}
	if cfg.Filter.RuleExpr != "" {
		filters = append(filters, &filter.RuleFilter{Expr: cfg.Filter.RuleExpr})
	}

	pipe := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&candidateNode{catalog: catalog, kv: opts.KV, logger: opts.Logger},
		&filter.FilterNode{Filters: filters},
		blender,
		&rerank.TopNNode{},
	}}

	experiments := make(map[string]*experiment.Experiment, len(cfg.Experiments))
	for i := range cfg.Experiments {
		exp := cfg.Experiments[i]
		experiments[exp.ID] = &exp
	}

	r := &Recommender{
		cfg:         cfg,
		log:         log,
		publisher:   publisher,
		scheduler:   scheduler,
		ingestor:    ingestor,
		cache:       resultCache,
		router:      experiment.NewRouter(opts.KV),
		experiments: experiments,
		collector:   collector,
		analyzer:    metrics.NewAnalyzer(collector, cfg.Metrics.MinSampleSize),
		popularity:  popularity,
		exposed:     exposed,
		blacklist:   blacklist,
		pipe:        pipe,
		logger:      opts.Logger,
	}
	r.wireHooks(vecCache)
	return r, nil
}

// wireHooks 把交互日志的记录钩子接到缓存失效、热门榜单和向量缓存上。
func (r *Recommender) wireHooks(vecCache *feature.MemoryVectorCache) {
	r.log.OnRecord(func(ctx context.Context, in core.Interaction) error {
		if err := r.cache.InvalidateUser(ctx, in.UserID); err != nil {
			r.logger.Warn().Err(err).Str("user_id", in.UserID).Msg("invalidate result cache")
		}
		return nil
	})
	r.log.OnRecord(func(ctx context.Context, in core.Interaction) error {
		w, err := r.log.Weights().Weight(in.Type)
		if err != nil {
			return nil
		}
		if err := r.popularity.Bump(ctx, in.ItemID, w); err != nil {
			r.logger.Warn().Err(err).Str("item_id", in.ItemID).Msg("bump popularity")
		}
		return nil
	})
	r.log.OnRecord(func(ctx context.Context, in core.Interaction) error {
		vecCache.InvalidateUser(ctx, in.UserID)
		return nil
	})
	r.log.OnRecord(func(ctx context.Context, in core.Interaction) error {
		r.scheduler.Notify()
		return nil
	})
}

// Start 启动后台任务：全量重训调度、摄入消费循环和热门榜单衰减。
// 阻塞直到 ctx 取消。
func (r *Recommender) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.scheduler.Run(gctx) })
	g.Go(func() error { return r.ingestor.Run(gctx) })
	g.Go(func() error { return r.decayLoop(gctx) })
	return g.Wait()
}

func (r *Recommender) decayLoop(ctx context.Context) error {
	interval := time.Duration(r.cfg.Popularity.DecayIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.popularity.Decay(ctx, r.cfg.Popularity.DecayFactor); err != nil {
				r.logger.Warn().Err(err).Msg("popularity decay")
			}
		}
	}
}

// RecordInteraction 提交一条交互事件，异步消费（至少一次语义）。
// 类型与 ID 在入队前同步校验，非法事件直接拒绝而不是静默丢弃。
func (r *Recommender) RecordInteraction(ctx context.Context, in core.Interaction) error {
	if err := r.log.Weights().Validate(in); err != nil {
		return err
	}
	return r.ingestor.Submit(ctx, in)
}

// UserHistory 返回用户的交互历史快照，只含时间戳不早于 since 的事件，
// since 为零值时返回全部。
func (r *Recommender) UserHistory(userID string, since time.Time) []core.Interaction {
	var out []core.Interaction
	for ev := range r.log.History(userID, since) {
		out = append(out, ev)
	}
	return out
}

// Recommend 处理一次推荐请求。
// 除参数校验外，服务路径尽量降级而不是报错：
// 目录故障回退热门兜底，信号故障由混排层消化。
func (r *Recommender) Recommend(ctx context.Context, rctx *core.RecommendContext) (*Result, error) {
	start := time.Now()
	if err := rctx.Validate(); err != nil {
		return nil, err
	}
	if rctx.RequestID == "" {
		rctx.RequestID = uuid.NewString()
	}
	rctx.Variant = r.assignVariant(ctx, rctx)

	version := int64(0)
	if snap := r.publisher.Current(); snap != nil {
		version = snap.Version
	}
	key := cache.Key{
		UserID:          rctx.UserID,
		Count:           rctx.Count,
		SnapshotVersion: version,
		Variant:         rctx.Variant,
	}

	// 缓存键不区分 IncludePurchased，保留已购的请求绕过缓存
	useCache := !rctx.IncludePurchased
	if useCache {
		// 代次在请求开始时固定：期间发生的失效会递增代次，
		// 本次请求的迟到写入不会污染新代次的缓存
		gen, err := r.cache.Generation(ctx, rctx.UserID)
		if err != nil {
			r.logger.Warn().Err(err).Str("user_id", rctx.UserID).Msg("read cache generation")
			useCache = false
		}
		key.Generation = gen
	}
	if useCache {
		if items, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			r.collector.RecordCacheLookup(true)
			rctx.PutLabel("cache_hit", utils.Label{Value: "true", Source: "cache"})
			r.finish(rctx, start)
			return r.result(rctx, items, true), nil
		}
		r.collector.RecordCacheLookup(false)
	}

	out, err := r.pipe.Run(ctx, rctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Str("request_id", rctx.RequestID).Msg("pipeline run")
		return nil, err
	}

	if useCache {
		if err := r.cache.Put(ctx, key, out); err != nil {
			r.logger.Warn().Err(err).Str("user_id", rctx.UserID).Msg("put result cache")
		}
	}
	if r.exposed != nil {
		ids := make([]string, 0, len(out))
		for _, it := range out {
			ids = append(ids, it.ID)
		}
		r.exposed.MarkExposed(rctx.UserID, ids)
	}

	r.finish(rctx, start)
	return r.result(rctx, out, false), nil
}

// assignVariant 按实验分流得到变体；无实验或分流失败时回默认变体。
func (r *Recommender) assignVariant(ctx context.Context, rctx *core.RecommendContext) string {
	if rctx.ExperimentID == "" {
		return r.cfg.Blend.DefaultVariant
	}
	r.expMu.RLock()
	exp, ok := r.experiments[rctx.ExperimentID]
	r.expMu.RUnlock()
	if !ok {
		r.logger.Warn().Str("experiment_id", rctx.ExperimentID).Msg("unknown experiment")
		return r.cfg.Blend.DefaultVariant
	}
	variant, err := r.router.Assign(ctx, rctx.UserID, exp)
	if err != nil {
		r.logger.Warn().Err(err).Str("experiment_id", rctx.ExperimentID).Msg("assign variant")
		return exp.Default
	}
	return variant
}

func (r *Recommender) finish(rctx *core.RecommendContext, start time.Time) {
	r.collector.ObserveLatency(rctx.ExperimentID, rctx.Variant, time.Since(start))
	if rctx.ExperimentID != "" {
		if err := r.collector.RecordOutcome(rctx.ExperimentID, rctx.Variant, metrics.OutcomeImpression); err != nil {
			r.logger.Warn().Err(err).Msg("record impression")
		}
	}
}

func (r *Recommender) result(rctx *core.RecommendContext, items []*core.Item, hit bool) *Result {
	if items == nil {
		items = []*core.Item{}
	}
	return &Result{
		RequestID: rctx.RequestID,
		UserID:    rctx.UserID,
		Variant:   rctx.Variant,
		Items:     items,
		CacheHit:  hit,
		Labels:    rctx.Labels,
	}
}

// TrackOutcome 上报推荐结果的后续事件（点击、转化）。
func (r *Recommender) TrackOutcome(experimentID, variant string, outcome metrics.Outcome) error {
	return r.collector.RecordOutcome(experimentID, variant, outcome)
}

// CompareVariants 对实验两个变体做转化率显著性检验。
func (r *Recommender) CompareVariants(experimentID, control, treatment string) (metrics.Comparison, error) {
	return r.analyzer.CompareConversion(experimentID, control, treatment)
}

// ModelStatus 返回模型训练状态。
func (r *Recommender) ModelStatus() model.Status {
	return r.scheduler.Status()
}

// TrainNow 立即执行一次全量训练，通常用于启动预热。
func (r *Recommender) TrainNow(ctx context.Context) error {
	return r.scheduler.TrainOnce(ctx)
}

// BlockItem 把物品加入全局黑名单，立即生效。
func (r *Recommender) BlockItem(itemID string) {
	r.blacklist.Block(itemID)
}

// UnblockItem 把物品移出全局黑名单。
func (r *Recommender) UnblockItem(itemID string) {
	r.blacklist.Unblock(itemID)
}
