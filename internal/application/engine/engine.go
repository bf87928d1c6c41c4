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

// AvailabilityCache 可售库存读缓存接口（由Redis实现）
//
// 教学要点：写路径以数据库（乐观锁）为准，缓存只做写穿透，
// 缓存失败绝不影响库存变更本身
type AvailabilityCache interface {
	SetAvailable(ctx context.Context, productID string, available int64) error
	GetAvailable(ctx context.Context, productID string) (int64, bool, error)
	BatchGetAvailable(ctx context.Context, productIDs []string) (map[string]int64, error)
}

// Options 引擎配置
type Options struct {
	// MaxRetries 版本冲突的最大重试次数（耗尽后返回ErrContention）
	MaxRetries int

	// DefaultTTL 调用方未指定时的预留有效期
	DefaultTTL time.Duration

	// Cache 可售库存读缓存（可为nil）
	Cache AvailabilityCache

	// Publisher 低库存事件发布器（可为nil）
	Publisher stock.EventPublisher

	// Logs 库存流水仓储（可为nil）
	Logs stock.LogRepository
}

// Engine 预留与可售库存引擎
//
// 教学要点：
// 1. 引擎独占两类实体的变更权
//   - StockRecord只通过CompareAndApply变更
//   - Reservation只通过Transition推进状态
//
// 2. 并发模型（乐观并发控制）
//   - 读记录 → 在副本上做检查和变更 → 按版本条件写回
//   - 版本冲突说明有并发写入者先赢了，重读重试整个检查
//   - 竞争范围只在单个商品，多商品操作互不阻塞
//
// 3. 失败即no-op
//   - 业务校验在apply函数内完成，失败时不落任何变更
type Engine struct {
	stocks       stock.Repository
	reservations reservation.Repository
	opts         Options
}

// New 创建引擎
func New(stocks stock.Repository, reservations reservation.Repository, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	metrics.InitMetrics()
	return &Engine{
		stocks:       stocks,
		reservations: reservations,
		opts:         opts,
	}
}

// Register 创建库存记录（商品首次入库，数量为0）
func (e *Engine) Register(ctx context.Context, productID string, minStockLevel int64) (*stock.StockRecord, error) {
	rec := &stock.StockRecord{
		ProductID:     productID,
		MinStockLevel: minStockLevel,
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	if err := e.stocks.Create(ctx, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Reserve 预留库存
//
// 原子步骤：检查可售量 ≥ 请求量 → 预留量+请求量 → 版本+1
// 不足时返回ErrInsufficientStock且无任何副作用
func (e *Engine) Reserve(ctx context.Context, productID string, quantity int64, ttl time.Duration) (*reservation.Reservation, error) {
	if quantity <= 0 {
		return nil, stock.ErrInvalidQuantity
	}
	if ttl < 0 {
		return nil, reservation.ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = e.opts.DefaultTTL
	}

	before, after, err := e.mutate(ctx, productID, func(rec *stock.StockRecord) error {
		return rec.Reserve(quantity)
	})
	if err != nil {
		metrics.ReservationsTotal.WithLabelValues("reserve", "failure").Inc()
		return nil, err
	}

	res := reservation.New(productID, quantity, ttl)
	if err := e.reservations.Create(ctx, res); err != nil {
		// 账本写入失败：反向补偿库存占用，保证不变式不被打破
		if _, _, cerr := e.mutate(ctx, productID, func(rec *stock.StockRecord) error {
			return rec.ReleaseHold(quantity)
		}); cerr != nil {
			log.Printf("⚠️ 预留补偿失败: product=%s quantity=%d err=%v", productID, quantity, cerr)
		}
		metrics.ReservationsTotal.WithLabelValues("reserve", "failure").Inc()
		return nil, fmt.Errorf("写入预留账本失败: %w", err)
	}

	e.afterMutation(ctx, stock.ChangeTypeReserve, before, after, res.ID, "")
	metrics.ReservationsTotal.WithLabelValues("reserve", "success").Inc()
	metrics.ReservationsActive.Inc()

	return res, nil
}

// Release 释放预留（只对ACTIVE有效，重复释放幂等安全）
func (e *Engine) Release(ctx context.Context, reservationID string) error {
	res, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.IsTerminal() {
		return reservation.ErrAlreadyTerminal
	}

	// 先推进状态再释放占用：谁赢得状态CAS谁负责唯一一次的减量
	if err := e.reservations.Transition(ctx, res.ID, reservation.StateActive, reservation.StateReleased); err != nil {
		return err
	}

	before, after, err := e.mutate(ctx, res.ProductID, func(rec *stock.StockRecord) error {
		return rec.ReleaseHold(res.QuantityHeld)
	})
	if err != nil {
		// 状态回滚到ACTIVE：占用仍被账本覆盖，调用方可重试、清扫可兜底
		if terr := e.reservations.Transition(ctx, res.ID, reservation.StateReleased, reservation.StateActive); terr != nil {
			log.Printf("⚠️ 释放失败后状态回滚失败: reservation=%s err=%v", res.ID, terr)
		}
		return fmt.Errorf("释放预留占用失败: %w", err)
	}

	e.afterMutation(ctx, stock.ChangeTypeRelease, before, after, res.ID, "")
	metrics.ReservationsTotal.WithLabelValues("release", "success").Inc()
	metrics.ReservationsActive.Dec()

	return nil
}

// Commit 将预留转为永久扣减（只对ACTIVE且未过期的预留有效）
func (e *Engine) Commit(ctx context.Context, reservationID string) error {
	res, err := e.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	// 已被清扫回收的预留报过期，而不是笼统的终态错误
	if res.State == reservation.StateExpired {
		return reservation.ErrReservationExpired
	}
	if res.IsTerminal() {
		return reservation.ErrAlreadyTerminal
	}
	// 防御性过期检查：正确性不依赖清扫时机
	if res.IsExpired(time.Now()) {
		return reservation.ErrReservationExpired
	}

	if err := e.reservations.Transition(ctx, res.ID, reservation.StateActive, reservation.StateCommitted); err != nil {
		return err
	}

	before, after, err := e.mutate(ctx, res.ProductID, func(rec *stock.StockRecord) error {
		return rec.CommitHold(res.QuantityHeld)
	})
	if err != nil {
		if terr := e.reservations.Transition(ctx, res.ID, reservation.StateCommitted, reservation.StateActive); terr != nil {
			log.Printf("⚠️ commit失败后状态回滚失败: reservation=%s err=%v", res.ID, terr)
		}
		return fmt.Errorf("预留转扣减失败: %w", err)
	}

	e.afterMutation(ctx, stock.ChangeTypeCommit, before, after, res.ID, "")
	metrics.ReservationsTotal.WithLabelValues("commit", "success").Inc()
	metrics.ReservationsActive.Dec()

	return nil
}

// Adjust 调整在库总量，返回调整后的数量
// delta可为负（盘亏、退货损耗）；结果为负或低于预留量时拒绝
func (e *Engine) Adjust(ctx context.Context, productID string, delta int64, reason string) (int64, error) {
	before, after, err := e.mutate(ctx, productID, func(rec *stock.StockRecord) error {
		return rec.Adjust(delta)
	})
	if err != nil {
		return 0, err
	}

	e.afterMutation(ctx, stock.ChangeTypeAdjust, before, after, "", reason)

	return after.Quantity, nil
}

// SetMinStockLevel 修改低库存告警阈值
func (e *Engine) SetMinStockLevel(ctx context.Context, productID string, level int64) error {
	if level < 0 {
		return stock.ErrNegativeThreshold
	}

	before, after, err := e.mutate(ctx, productID, func(rec *stock.StockRecord) error {
		rec.MinStockLevel = level
		return nil
	})
	if err != nil {
		return err
	}

	// 阈值变化同样可能产生跨线沿
	e.observe(ctx, before, after)

	return nil
}

// Retire 商品下架时清零库存（软清零，记录保留以维持审计不变式）
// 存在未结清预留时拒绝
func (e *Engine) Retire(ctx context.Context, productID string) error {
	before, after, err := e.mutate(ctx, productID, func(rec *stock.StockRecord) error {
		if rec.ReservedQuantity != 0 {
			return stock.ErrHoldsOutstanding
		}
		rec.Quantity = 0
		return nil
	})
	if err != nil {
		return err
	}

	e.afterMutation(ctx, stock.ChangeTypeRetire, before, after, "", "商品下架清零")

	return nil
}

// Availability 查询可售库存（缓存优先，未命中回源数据库）
func (e *Engine) Availability(ctx context.Context, productID string) (int64, error) {
	if e.opts.Cache != nil {
		if available, ok, err := e.opts.Cache.GetAvailable(ctx, productID); err == nil && ok {
			return available, nil
		}
	}

	rec, err := e.stocks.GetByProductID(ctx, productID)
	if err != nil {
		return 0, err
	}

	available := rec.Available()
	if e.opts.Cache != nil {
		if err := e.opts.Cache.SetAvailable(ctx, productID, available); err != nil {
			log.Printf("⚠️ 回填可售库存缓存失败: product=%s err=%v", productID, err)
		}
	}

	return available, nil
}

// BatchAvailability 批量查询可售库存
func (e *Engine) BatchAvailability(ctx context.Context, productIDs []string) (map[string]int64, error) {
	result := make(map[string]int64, len(productIDs))

	missing := productIDs
	if e.opts.Cache != nil {
		cached, err := e.opts.Cache.BatchGetAvailable(ctx, productIDs)
		if err == nil {
			missing = missing[:0:0]
			for _, id := range productIDs {
				if available, ok := cached[id]; ok {
					result[id] = available
				} else {
					missing = append(missing, id)
				}
			}
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	recs, err := e.stocks.BatchGetByProductIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, rec := range recs {
		result[id] = rec.Available()
	}

	return result, nil
}

// Get 查询完整库存记录
func (e *Engine) Get(ctx context.Context, productID string) (*stock.StockRecord, error) {
	return e.stocks.GetByProductID(ctx, productID)
}

// mutate 有界重试的乐观并发变更循环
//
// 返回变更前后的记录快照（流水与低库存边沿检测都需要before/after）
func (e *Engine) mutate(ctx context.Context, productID string, apply func(*stock.StockRecord) error) (before, after *stock.StockRecord, err error) {
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		// 调用方取消时立即停止（预留尚未落地，无需补偿）
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec, err := e.stocks.GetByProductID(ctx, productID)
		if err != nil {
			return nil, nil, err
		}

		updated, err := e.stocks.CompareAndApply(ctx, productID, rec.Version, apply)
		if errors.Is(err, stock.ErrVersionConflict) {
			// 有并发写入者先赢了：重读最新状态，重做整个检查
			metrics.StockConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return nil, nil, err
		}

		return rec, updated, nil
	}

	return nil, nil, stock.ErrContention
}

// afterMutation 变更成功后的统一收尾：流水、缓存写穿透、低库存边沿检测
func (e *Engine) afterMutation(ctx context.Context, changeType stock.ChangeType, before, after *stock.StockRecord, reference, remark string) {
	if e.opts.Logs != nil {
		if err := e.opts.Logs.Create(ctx, stock.NewLog(changeType, before, after, reference, remark)); err != nil {
			log.Printf("⚠️ 写入库存流水失败: product=%s type=%s err=%v", after.ProductID, changeType, err)
		}
	}

	if e.opts.Cache != nil {
		if err := e.opts.Cache.SetAvailable(ctx, after.ProductID, after.Available()); err != nil {
			log.Printf("⚠️ 更新可售库存缓存失败: product=%s err=%v", after.ProductID, err)
		}
	}

	e.observe(ctx, before, after)
}
