package stock

import (
	"context"
	"time"
)

// 低库存事件（边沿触发）
//
// 教学要点：
// 1. 边沿触发 vs 电平触发
//   - 电平触发：低于阈值期间每次变更都发事件 → 通知风暴
//   - 边沿触发：只在"从阈值之上跌到阈值及以下"的瞬间发一次
//
// 2. 投递语义
//   - 至少一次（at-least-once）：重复通知可容忍，漏发不可容忍
//   - 发布失败不影响库存变更本身（已在变更成功之后）

// LowStockEvent 可售库存跌破告警线
type LowStockEvent struct {
	ProductID  string    `json:"product_id"`
	Available  int64     `json:"available"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RestockedEvent 可售库存回到告警线之上
type RestockedEvent struct {
	ProductID  string    `json:"product_id"`
	Available  int64     `json:"available"`
	Threshold  int64     `json:"threshold"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher 事件发布接口（由通知基础设施实现）
type EventPublisher interface {
	PublishLowStock(ctx context.Context, event LowStockEvent) error
	PublishRestocked(ctx context.Context, event RestockedEvent) error
}
