package model

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/feature"
)

// InteractionSource 是训练数据来源（interaction.Log 实现）。
type InteractionSource interface {
	All() []core.Interaction
}

// Status 是训练任务的运行状态（对外暴露给状态查询接口）。
type Status struct {
	Version       int64              `json:"version"`
	TrainedAt     time.Time          `json:"trained_at"`
	InProgress    bool               `json:"training_in_progress"`
	Runs          int64              `json:"runs"`
	Failures      int64              `json:"failures"`
	Divergences   int64              `json:"divergences"`
	LastError     string             `json:"last_error,omitempty"`
	Stats         core.TrainingStats `json:"stats"`
	NextScheduled time.Time          `json:"next_scheduled"`
}

// Scheduler 定时执行全量重训并发布快照。
//
// 失败处理：训练失败（含发散）保留旧快照继续服务，只累计计数并记日志。
type Scheduler struct {
	source   InteractionSource
	builder  *feature.Builder
	trainer  *Trainer
	pub      *Publisher
	interval time.Duration
	logger   zerolog.Logger

	// OnResult 每次重训结束后回调（指标上报），在 Run 前设置。
	OnResult func(err error)

	// RetrainThreshold 自上次重训起累计该数量新事件后提前触发重训，
	// 0 表示只按周期重训。在 Run 前设置。
	RetrainThreshold int

	pending atomic.Int64
	kick    chan struct{}

	mu     sync.Mutex
	status Status
}

// NewScheduler 创建训练调度器。interval <= 0 时默认 1 小时。
func NewScheduler(source InteractionSource, builder *feature.Builder, trainer *Trainer, pub *Publisher, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		source:   source,
		builder:  builder,
		trainer:  trainer,
		pub:      pub,
		interval: interval,
		kick:     make(chan struct{}, 1),
		logger:   logger.With().Str("component", "model.scheduler").Logger(),
	}
}

// Notify 报告一条新交互。累计量达到 RetrainThreshold 时向 Run 发出
// 一次提前重训信号，信号挤压时只保留一个。
func (s *Scheduler) Notify() {
	if s.RetrainThreshold <= 0 {
		return
	}
	if s.pending.Add(1) >= int64(s.RetrainThreshold) {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Run 阻塞运行定时重训，ctx 取消后返回。
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.kick:
			s.logger.Info().Int("threshold", s.RetrainThreshold).Msg("threshold retrain triggered")
		}
		s.pending.Store(0)
		if err := s.TrainOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("scheduled training failed")
		}
		s.mu.Lock()
		s.status.NextScheduled = time.Now().Add(s.interval)
		s.mu.Unlock()
	}
}

// TrainOnce 执行一次全量重训并发布。
// 失败（含发散）时不触碰当前快照。
func (s *Scheduler) TrainOnce(ctx context.Context) error {
	err := s.trainOnce(ctx)
	if s.OnResult != nil {
		s.OnResult(err)
	}
	return err
}

func (s *Scheduler) trainOnce(ctx context.Context) error {
	s.mu.Lock()
	s.status.InProgress = true
	s.mu.Unlock()

	events := s.source.All()
	triples := s.builder.Build(events, time.Now())
	version := s.pub.NextVersion()

	start := time.Now()
	snap, err := s.trainer.Train(ctx, triples, version)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.InProgress = false
	s.status.Runs++

	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
		if core.IsDivergence(err) {
			s.status.Divergences++
			s.logger.Warn().
				Int64("version", version).
				Int("triples", len(triples)).
				Msg("training diverged, snapshot discarded")
		}
		return err
	}

	s.pub.Publish(snap)
	s.status.Version = snap.Version
	s.status.TrainedAt = snap.TrainedAt
	s.status.LastError = ""
	s.status.Stats = snap.Stats

	s.logger.Info().
		Int64("version", snap.Version).
		Int("users", snap.Stats.NumUsers).
		Int("items", snap.Stats.NumItems).
		Int("triples", snap.Stats.NumInteractions).
		Float64("loss", snap.Stats.FinalLoss).
		Dur("elapsed", time.Since(start)).
		Msg("snapshot published")
	return nil
}

// Status 返回训练状态副本。
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
