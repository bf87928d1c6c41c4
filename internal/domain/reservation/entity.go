package reservation

import (
	"time"

	"github.com/google/uuid"
)

// State 预留状态
//
// 状态机：
//
//	ACTIVE ──commit──→ COMMITTED
//	ACTIVE ──release─→ RELEASED
//	ACTIVE ──sweep───→ EXPIRED
//
// 三个终态都不可再变更；终态保留一段时间用于审计后清除
type State string

const (
	StateActive    State = "ACTIVE"    // 有效预留，占用库存
	StateCommitted State = "COMMITTED" // 已转为永久扣减
	StateReleased  State = "RELEASED"  // 主动释放
	StateExpired   State = "EXPIRED"   // 超时被后台回收
)

// Reservation 库存预留实体（领域模型）
//
// 教学要点：
// 1. 预留 = 对未来消费的限时占用
//   - 下单时创建，支付成功commit，放弃/失败release
//   - ExpiresAt之后未commit的由后台清扫过期，防止弃购永久锁库存
//
// 2. 不变式：同一商品所有ACTIVE预留的QuantityHeld之和
//    等于该商品库存记录的ReservedQuantity
type Reservation struct {
	// 预留ID（UUID，引擎生成）
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// 商品ID
	ProductID string `gorm:"index:idx_res_product;size:64;not null" json:"product_id"`

	// 占用数量
	QuantityHeld int64 `gorm:"not null" json:"quantity_held"`

	// 当前状态
	State State `gorm:"type:varchar(16);index:idx_res_state;not null" json:"state"`

	// 创建时间
	CreatedAt time.Time `json:"created_at"`

	// 过期时间（ACTIVE状态到期后由后台清扫回收）
	ExpiresAt time.Time `gorm:"index:idx_res_expires" json:"expires_at"`

	// 更新时间（进入终态的时间，用于终态保留期清理）
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Reservation) TableName() string {
	return "reservations"
}

// New 创建一条ACTIVE预留
func New(productID string, quantity int64, ttl time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		ID:           uuid.NewString(),
		ProductID:    productID,
		QuantityHeld: quantity,
		State:        StateActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	}
}

// IsTerminal 判断是否已进入终态
func (r *Reservation) IsTerminal() bool {
	return r.State != StateActive
}

// IsExpired 判断是否已过期（只对ACTIVE有意义）
func (r *Reservation) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
