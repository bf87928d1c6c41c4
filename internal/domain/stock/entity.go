package stock

import "time"

// StockRecord 库存记录实体（领域模型）
//
// 教学要点：
// 1. 库存记录的核心字段设计
//   - Quantity：实物在库总量
//   - ReservedQuantity：被有效预留占用的数量
//   - 可售库存 = Quantity - ReservedQuantity（买家看到的数字）
//
//  2. 为什么需要ReservedQuantity？
//     场景：下单后到支付完成之间存在时间窗口
//     - 直接扣减Quantity：用户不支付会永久占用库存
//     - 使用预留机制：下单预留 → 支付扣减 → 超时释放
//
//  3. Version字段（乐观并发控制）
//     所有变更都通过"版本比对 + 整体替换"完成，
//     并发写入者发现版本不一致时重读重试，而不是互相覆盖
type StockRecord struct {
	// 商品ID（主键）
	ProductID string `gorm:"primaryKey;column:product_id;size:64" json:"product_id"`

	// 实物在库总量
	Quantity int64 `gorm:"not null;default:0" json:"quantity"`

	// 已预留数量（有效预留对应的占用）
	// 不变式：0 ≤ ReservedQuantity ≤ Quantity
	ReservedQuantity int64 `gorm:"not null;default:0;column:reserved_quantity" json:"reserved_quantity"`

	// 低库存告警阈值
	// 可售库存降到该值及以下时触发一次低库存事件
	MinStockLevel int64 `gorm:"not null;default:0;column:min_stock_level" json:"min_stock_level"`

	// 乐观锁版本号（每次成功变更+1）
	Version int64 `gorm:"not null;default:0" json:"version"`

	// 创建时间
	CreatedAt time.Time `json:"created_at"`

	// 更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (StockRecord) TableName() string {
	return "stock_records"
}

// Available 可售库存
// 教学要点：对外展示的"可购买数量"，预留不影响在库总量，只影响可售量
func (r *StockRecord) Available() int64 {
	return r.Quantity - r.ReservedQuantity
}

// Validate 验证库存记录不变式
func (r *StockRecord) Validate() error {
	if r.ProductID == "" {
		return ErrInvalidProductID
	}

	if r.Quantity < 0 {
		return ErrNegativeQuantity
	}

	if r.ReservedQuantity < 0 {
		return ErrNegativeReserved
	}

	if r.MinStockLevel < 0 {
		return ErrNegativeThreshold
	}

	// 核心不变式：预留永远不能超过在库总量
	if r.ReservedQuantity > r.Quantity {
		return ErrReservedExceedsQuantity
	}

	return nil
}

// CanReserve 判断是否可以预留指定数量
func (r *StockRecord) CanReserve(quantity int64) bool {
	return quantity > 0 && r.Available() >= quantity
}

// IsLowStock 判断可售库存是否处于告警线及以下
func (r *StockRecord) IsLowStock() bool {
	return r.Available() <= r.MinStockLevel
}

// Clone 复制一份库存记录
// 用途：乐观锁变更在副本上执行，失败时原记录保持不变
func (r *StockRecord) Clone() *StockRecord {
	c := *r
	return &c
}

// Reserve 预留库存（纯领域变更，原子性由仓储层保证）
func (r *StockRecord) Reserve(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Available() < quantity {
		return ErrInsufficientStock
	}
	r.ReservedQuantity += quantity
	return nil
}

// ReleaseHold 释放预留
func (r *StockRecord) ReleaseHold(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.ReservedQuantity < quantity {
		return ErrReservedExceedsQuantity
	}
	r.ReservedQuantity -= quantity
	return nil
}

// CommitHold 将预留转为永久扣减
// 教学要点：Quantity与ReservedQuantity同步减少，可售库存不变
func (r *StockRecord) CommitHold(quantity int64) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.ReservedQuantity < quantity {
		return ErrReservedExceedsQuantity
	}
	r.Quantity -= quantity
	r.ReservedQuantity -= quantity
	return nil
}

// Adjust 调整在库总量（delta可为负，如盘亏、补货修正）
func (r *StockRecord) Adjust(delta int64) error {
	next := r.Quantity + delta
	if next < 0 || next < r.ReservedQuantity {
		return ErrWouldUnderflow
	}
	r.Quantity = next
	return nil
}
