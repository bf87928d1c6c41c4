package reservation

import (
	"context"
	"time"
)

// Repository 预留账本仓储接口（领域层定义）
//
// 教学要点：
// 1. Transition是状态机的唯一推进入口
//   - 带条件更新（WHERE state = from），天然CAS
//   - commit与后台清扫赛跑时，谁先推进谁赢，
//     败者拿到ErrAlreadyTerminal干净失败，绝不双重扣减
//
// 2. SumActiveHeld用于对账：
//    同一商品ACTIVE预留之和 == 库存记录的ReservedQuantity
type Repository interface {
	// Create 写入一条新预留
	Create(ctx context.Context, res *Reservation) error

	// GetByID 根据预留ID查询
	GetByID(ctx context.Context, id string) (*Reservation, error)

	// Transition 原子推进状态：state==from时置为to
	// 返回：
	//   - ErrReservationNotFound：记录不存在
	//   - ErrAlreadyTerminal：记录存在但状态不是from（输掉了竞争）
	Transition(ctx context.Context, id string, from, to State) error

	// ListExpired 查询已过期但仍为ACTIVE的预留（清扫输入）
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)

	// SumActiveHeld 统计指定商品ACTIVE预留的占用总量
	SumActiveHeld(ctx context.Context, productID string) (int64, error)

	// PurgeTerminal 清除早于olderThan进入终态的预留，返回清除条数
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}
