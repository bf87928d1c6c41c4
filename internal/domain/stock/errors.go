package stock

import "errors"

// 领域错误定义
//
// 教学要点：
// 1. 错误分类
//   - 参数错误：调用方传入非法值
//   - 业务错误：库存不足、调整会击穿不变式（预期内，调用方据此分支）
//   - 并发错误：版本冲突（内部重试）、重试耗尽（Contention）
//
// 2. 全部使用哨兵错误，调用方通过errors.Is分支，
//    不向上抛不透明的faults
var (
	// 参数错误
	ErrInvalidProductID  = errors.New("无效的商品ID")
	ErrInvalidQuantity   = errors.New("无效的数量（必须大于0）")
	ErrNegativeQuantity  = errors.New("库存总量不能为负数")
	ErrNegativeReserved  = errors.New("预留数量不能为负数")
	ErrNegativeThreshold = errors.New("告警阈值不能为负数")

	// 业务错误
	ErrInsufficientStock       = errors.New("可售库存不足")
	ErrProductNotFound         = errors.New("库存记录不存在")
	ErrProductExists           = errors.New("库存记录已存在")
	ErrWouldUnderflow          = errors.New("调整会导致库存为负或低于预留量")
	ErrReservedExceedsQuantity = errors.New("预留数量超过在库总量")
	ErrHoldsOutstanding        = errors.New("存在未结清的预留，无法下架清零")

	// 并发错误
	// ErrVersionConflict 只在仓储层与引擎的重试循环之间流转
	ErrVersionConflict = errors.New("版本冲突（记录已被并发修改）")
	// ErrContention 重试次数耗尽后向调用方暴露
	ErrContention = errors.New("并发冲突重试耗尽")
)
