package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fengze/stockcore/internal/application/engine"
	"github.com/fengze/stockcore/internal/domain/stock"
	"github.com/fengze/stockcore/pkg/metrics"
	"github.com/fengze/stockcore/pkg/saga"
)

// Mode 批量调整模式
type Mode string

const (
	// ModeAllOrNothing 全有或全无：任一条目非法则整批拒绝，零变更
	ModeAllOrNothing Mode = "all_or_nothing"

	// ModeBestEffort 尽力而为：逐条独立应用，单条失败不阻塞其余
	ModeBestEffort Mode = "best_effort"
)

// ErrBatchRejected 整批被拒绝（全有或全无模式），逐条原因见Result.Items
var ErrBatchRejected = errors.New("批量调整被整批拒绝")

// ErrInvalidMode 未知的批量模式
var ErrInvalidMode = errors.New("无效的批量调整模式")

// Item 一条调整请求
type Item struct {
	ProductID string `json:"product_id"`
	Delta     int64  `json:"delta"`
}

// ItemResult 单条调整结果
type ItemResult struct {
	ProductID   string `json:"product_id"`
	Delta       int64  `json:"delta"`
	NewQuantity int64  `json:"new_quantity,omitempty"`
	Err         error  `json:"-"`
}

// Result 整批结果报告
type Result struct {
	Mode    Mode         `json:"mode"`
	Applied int          `json:"applied"` // 成功落地的条目数
	Items   []ItemResult `json:"items"`   // 按提交顺序逐条报告
}

// FailedItems 返回失败的条目
func (r *Result) FailedItems() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Coordinator 批量调整协调器
//
// 教学要点：
// 1. 全有或全无 = 先整批校验 + Saga补偿执行
//   - 校验通过后逐条adjust；由于与其他写入者并发，
//     个别条目仍可能在应用时失败（校验与应用之间有人先改了库存）
//   - 此时Saga按逆序补偿（adjust(-delta)），回到零变更
//
// 2. 不做跨商品的全局事务：每条adjust自身原子（§乐观锁），
//    整批只保证"要么全部成功，要么补偿回滚"
type Coordinator struct {
	engine *engine.Engine
	stocks stock.Repository

	// sagaTimeout 全有或全无模式的整体超时
	sagaTimeout time.Duration
}

// NewCoordinator 创建批量调整协调器
func NewCoordinator(eng *engine.Engine, stocks stock.Repository) *Coordinator {
	metrics.InitMetrics()
	return &Coordinator{
		engine:      eng,
		stocks:      stocks,
		sagaTimeout: 30 * time.Second,
	}
}

// Apply 按提交顺序应用一批调整
func (c *Coordinator) Apply(ctx context.Context, items []Item, mode Mode, reason string) (*Result, error) {
	switch mode {
	case ModeAllOrNothing:
		return c.applyAllOrNothing(ctx, items, reason)
	case ModeBestEffort:
		return c.applyBestEffort(ctx, items, reason)
	default:
		return nil, ErrInvalidMode
	}
}

// applyBestEffort 逐条独立应用，收集每条成败
func (c *Coordinator) applyBestEffort(ctx context.Context, items []Item, reason string) (*Result, error) {
	result := &Result{Mode: ModeBestEffort, Items: make([]ItemResult, 0, len(items))}

	for _, item := range items {
		newQty, err := c.engine.Adjust(ctx, item.ProductID, item.Delta, reason)
		if err != nil {
			result.Items = append(result.Items, ItemResult{ProductID: item.ProductID, Delta: item.Delta, Err: err})
			metrics.BulkItemsTotal.WithLabelValues(string(ModeBestEffort), "failure").Inc()
			continue
		}

		result.Items = append(result.Items, ItemResult{ProductID: item.ProductID, Delta: item.Delta, NewQuantity: newQty})
		result.Applied++
		metrics.BulkItemsTotal.WithLabelValues(string(ModeBestEffort), "success").Inc()
	}

	return result, nil
}

// applyAllOrNothing 先整批校验，再以Saga补偿方式执行
func (c *Coordinator) applyAllOrNothing(ctx context.Context, items []Item, reason string) (*Result, error) {
	result := &Result{Mode: ModeAllOrNothing, Items: make([]ItemResult, 0, len(items))}

	// 阶段1：对当前状态整批校验，任一非法则零变更拒绝
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	recs, err := c.stocks.BatchGetByProductIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("批量读取库存失败: %w", err)
	}

	invalid := false
	for _, item := range items {
		itemResult := ItemResult{ProductID: item.ProductID, Delta: item.Delta}

		rec, ok := recs[item.ProductID]
		if !ok {
			itemResult.Err = stock.ErrProductNotFound
		} else if err := rec.Clone().Adjust(item.Delta); err != nil {
			itemResult.Err = err
		}

		if itemResult.Err != nil {
			invalid = true
		}
		result.Items = append(result.Items, itemResult)
	}

	if invalid {
		for range items {
			metrics.BulkItemsTotal.WithLabelValues(string(ModeAllOrNothing), "rejected").Inc()
		}
		return result, ErrBatchRejected
	}

	// 阶段2：Saga执行，校验后被并发写入者抢先导致的失败触发逆序补偿
	s := saga.NewSaga(c.sagaTimeout)
	for i := range result.Items {
		item := &result.Items[i]
		s.AddStep(
			fmt.Sprintf("adjust:%s", item.ProductID),
			func(ctx context.Context) error {
				newQty, err := c.engine.Adjust(ctx, item.ProductID, item.Delta, reason)
				if err != nil {
					item.Err = err
					return err
				}
				item.NewQuantity = newQty
				return nil
			},
			func(ctx context.Context) error {
				_, err := c.engine.Adjust(ctx, item.ProductID, -item.Delta, reason+"（批量回滚）")
				return err
			},
		)
	}

	if err := s.Execute(ctx); err != nil {
		// 已应用的条目已被补偿，整批等效零变更
		result.Applied = 0
		for range items {
			metrics.BulkItemsTotal.WithLabelValues(string(ModeAllOrNothing), "rolled_back").Inc()
		}
		return result, fmt.Errorf("%w: %v", ErrBatchRejected, err)
	}

	result.Applied = len(items)
	for range items {
		metrics.BulkItemsTotal.WithLabelValues(string(ModeAllOrNothing), "success").Inc()
	}

	return result, nil
}
