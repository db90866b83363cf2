// Package ingest 是交互事件的流式摄入端。
//
// 事件源是 at-least-once 投递：重复事件靠交互日志的四元组去重吞掉，
// 摄入端不报错。每条落账事件还会触发一次限速的在线增量更新，
// 限速器满载时跳过增量，等下一次全量重训补齐。
package ingest

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/interaction"
	"github.com/rushteam/recore/model"
)

// Ingestor 消费交互事件：落账、触发钩子、限速增量更新。
type Ingestor struct {
	log     *interaction.Log
	updater *model.Updater
	limiter *rate.Limiter
	logger  zerolog.Logger
	events  chan core.Interaction
}

// NewIngestor 创建摄入端。
// updater 可为 nil（禁用在线更新）；updatesPerSec <= 0 时默认每秒 10 次。
func NewIngestor(log *interaction.Log, updater *model.Updater, updatesPerSec float64, buffer int, logger zerolog.Logger) *Ingestor {
	if updatesPerSec <= 0 {
		updatesPerSec = 10
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Ingestor{
		log:     log,
		updater: updater,
		limiter: rate.NewLimiter(rate.Limit(updatesPerSec), int(updatesPerSec)+1),
		logger:  logger.With().Str("component", "ingest").Logger(),
		events:  make(chan core.Interaction, buffer),
	}
}

// EventSource 是外部事件流的抽象（消息队列消费者、日志回放等）。
type EventSource interface {
	Events(ctx context.Context) (<-chan core.Interaction, error)
}

// Attach 把事件源接入摄入队列，阻塞直到源关闭或 ctx 取消。
func (i *Ingestor) Attach(ctx context.Context, src EventSource) error {
	ch, err := src.Events(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-ch:
			if !ok {
				return nil
			}
			if err := i.Submit(ctx, in); err != nil {
				return err
			}
		}
	}
}

// Submit 把事件放入摄入队列，队列满时阻塞直到 ctx 取消。
func (i *Ingestor) Submit(ctx context.Context, in core.Interaction) error {
	select {
	case i.events <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 阻塞消费事件直到 ctx 取消。
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-i.events:
			i.consume(ctx, in)
		}
	}
}

// consume 处理单条事件，任何失败都不中断消费循环。
func (i *Ingestor) consume(ctx context.Context, in core.Interaction) {
	if err := i.log.Record(ctx, in); err != nil {
		switch {
		case core.IsDuplicate(err):
			// at-least-once 投递的正常情形
			i.logger.Debug().
				Str("user", in.UserID).
				Str("item", in.ItemID).
				Msg("duplicate event dropped")
			return
		case core.IsValidation(err):
			i.logger.Warn().Err(err).
				Str("user", in.UserID).
				Str("item", in.ItemID).
				Msg("invalid event dropped")
			return
		default:
			// 钩子失败时事件本身已落账，增量更新照常进行
			i.logger.Warn().Err(err).
				Str("user", in.UserID).
				Str("item", in.ItemID).
				Msg("record hook failed")
		}
	}

	if i.updater == nil {
		return
	}
	if !i.limiter.Allow() {
		return
	}
	weight, err := i.log.Weights().Weight(in.Type)
	if err != nil {
		return
	}
	if i.updater.Apply(in.UserID, in.ItemID, weight) {
		i.logger.Debug().
			Str("user", in.UserID).
			Str("item", in.ItemID).
			Msg("online update applied")
	}
}
