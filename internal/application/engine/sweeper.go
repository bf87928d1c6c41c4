package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fengze/stockcore/internal/domain/reservation"
	"github.com/fengze/stockcore/internal/domain/stock"
	"github.com/fengze/stockcore/pkg/metrics"
)

// 清扫批大小：单轮最多处理的过期预留数
const sweepBatchSize = 256

// SweepExpired 回收已过期的ACTIVE预留
//
// 教学要点：
// 1. 过期回收 = 和release完全相同的减量，只是状态落到EXPIRED
//   - 这是防止"弃购的购物车永久锁死库存"的机制
//
// 2. 与commit的竞争
//   - 双方都先做Transition（原子CAS），谁赢谁负责唯一一次变更
//   - 输掉CAS的一方拿到ErrAlreadyTerminal，跳过即可，绝不双重减量
//
// 返回本轮回收的预留条数
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	swept := 0

	for {
		expired, err := e.reservations.ListExpired(ctx, now, sweepBatchSize)
		if err != nil {
			return swept, fmt.Errorf("查询过期预留失败: %w", err)
		}
		if len(expired) == 0 {
			break
		}

		for _, res := range expired {
			if err := e.expireOne(ctx, res); err != nil {
				log.Printf("⚠️ 回收过期预留失败: reservation=%s err=%v", res.ID, err)
				continue
			}
			swept++
		}

		if len(expired) < sweepBatchSize {
			break
		}
	}

	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweptReservationsTotal.Add(float64(swept))

	return swept, nil
}

// expireOne 回收单条过期预留
func (e *Engine) expireOne(ctx context.Context, res *reservation.Reservation) error {
	err := e.reservations.Transition(ctx, res.ID, reservation.StateActive, reservation.StateExpired)
	if errors.Is(err, reservation.ErrAlreadyTerminal) || errors.Is(err, reservation.ErrReservationNotFound) {
		// 输给了并发的commit/release，对方已完成变更
		return nil
	}
	if err != nil {
		return err
	}

	before, after, err := e.mutate(ctx, res.ProductID, func(rec *stock.StockRecord) error {
		return rec.ReleaseHold(res.QuantityHeld)
	})
	if err != nil {
		// 状态回滚到ACTIVE，下一轮清扫重试回收
		if terr := e.reservations.Transition(ctx, res.ID, reservation.StateExpired, reservation.StateActive); terr != nil {
			log.Printf("⚠️ 回收失败后状态回滚失败: reservation=%s err=%v", res.ID, terr)
		}
		return fmt.Errorf("释放过期预留占用失败: %w", err)
	}

	e.afterMutation(ctx, stock.ChangeTypeExpire, before, after, res.ID, "")
	metrics.ReservationsActive.Dec()

	return nil
}

// PurgeTerminal 清除超过保留期的终态预留（审计保留期之外的清理）
func (e *Engine) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	return e.reservations.PurgeTerminal(ctx, time.Now().Add(-retention))
}

// Sweeper 后台清扫器
//
// 教学要点：
// 1. 启动时先做一轮全量清扫：进程重启后，过期时间已过的预留
//    必须在对外服务之前回收，避免复活过期占用
// 2. 之后按固定间隔周期清扫 + 终态清理
type Sweeper struct {
	engine    *Engine
	interval  time.Duration
	retention time.Duration
}

// NewSweeper 创建清扫器
func NewSweeper(engine *Engine, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Sweeper{
		engine:    engine,
		interval:  interval,
		retention: retention,
	}
}

// Run 阻塞运行清扫循环，ctx取消后返回
func (s *Sweeper) Run(ctx context.Context) error {
	// 启动清扫：先清掉历史过期预留再进入周期循环
	if swept, err := s.engine.SweepExpired(ctx, time.Now()); err != nil {
		return fmt.Errorf("启动清扫失败: %w", err)
	} else if swept > 0 {
		log.Printf("🧹 启动清扫完成: 回收%d条过期预留", swept)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if swept, err := s.engine.SweepExpired(ctx, now); err != nil {
				log.Printf("⚠️ 周期清扫失败: %v", err)
			} else if swept > 0 {
				log.Printf("🧹 周期清扫: 回收%d条过期预留", swept)
			}

			if purged, err := s.engine.PurgeTerminal(ctx, s.retention); err != nil {
				log.Printf("⚠️ 终态清理失败: %v", err)
			} else if purged > 0 {
				log.Printf("🧹 终态清理: 清除%d条历史预留", purged)
			}
		}
	}
}
