package engine

import (
	"context"
	"log"
	"time"

	"github.com/fengze/stockcore/internal/domain/stock"
	"github.com/fengze/stockcore/pkg/metrics"
)

// observe 低库存边沿检测
//
// 教学要点：
// 1. 边沿触发：比较变更前后"是否处于告警线及以下"
//   - 上方 → 线下：恰好一次LowStockEvent
//   - 线下 → 上方：恰好一次RestockedEvent
//   - 持续处于线下的后续变更不再发事件（避免通知风暴）
//
// 2. 发布失败只记日志，不回滚库存变更
//    （通知侧的缓冲重投保证至少一次投递，见infrastructure/notify）
func (e *Engine) observe(ctx context.Context, before, after *stock.StockRecord) {
	if e.opts.Publisher == nil {
		return
	}

	lowBefore := before.IsLowStock()
	lowAfter := after.IsLowStock()

	switch {
	case !lowBefore && lowAfter:
		event := stock.LowStockEvent{
			ProductID:  after.ProductID,
			Available:  after.Available(),
			Threshold:  after.MinStockLevel,
			OccurredAt: time.Now(),
		}
		if err := e.opts.Publisher.PublishLowStock(ctx, event); err != nil {
			log.Printf("⚠️ 低库存事件发布失败: product=%s err=%v", after.ProductID, err)
		}
		metrics.StockEventsTotal.WithLabelValues("low_stock").Inc()

	case lowBefore && !lowAfter:
		event := stock.RestockedEvent{
			ProductID:  after.ProductID,
			Available:  after.Available(),
			Threshold:  after.MinStockLevel,
			OccurredAt: time.Now(),
		}
		if err := e.opts.Publisher.PublishRestocked(ctx, event); err != nil {
			log.Printf("⚠️ 库存恢复事件发布失败: product=%s err=%v", after.ProductID, err)
		}
		metrics.StockEventsTotal.WithLabelValues("restocked").Inc()
	}
}
