package stock

import "time"

// StockLog 库存变更流水（领域模型）
//
// 教学要点：
// 1. 为什么需要库存流水？
//   - 审计需求：所有库存变更必须可追溯
//   - 对账需求：库存与预留、订单数据核对
//   - 排查需求：异常库存问题定位
//
// 2. 设计原则
//   - 只增不改（Append-Only）
//   - 记录变更前后状态（在库量与预留量各一对）
//   - 记录关联业务ID（预留ID或批量单号）
type StockLog struct {
	// 主键ID
	ID uint `gorm:"primaryKey" json:"id"`

	// 商品ID
	ProductID string `gorm:"index:idx_product_id;size:64;not null" json:"product_id"`

	// 变更类型
	ChangeType ChangeType `gorm:"type:varchar(20);not null" json:"change_type"`

	// 变更数量（正数=增加，负数=减少，对在库总量而言）
	Delta int64 `gorm:"not null" json:"delta"`

	// 变更前/后在库总量
	BeforeQuantity int64 `gorm:"not null" json:"before_quantity"`
	AfterQuantity  int64 `gorm:"not null" json:"after_quantity"`

	// 变更前/后预留量
	BeforeReserved int64 `gorm:"not null" json:"before_reserved"`
	AfterReserved  int64 `gorm:"not null" json:"after_reserved"`

	// 关联业务单据（预留ID、批量调整单号等，可选）
	Reference string `gorm:"index:idx_reference;size:64" json:"reference,omitempty"`

	// 备注（adjust的reason等）
	Remark string `gorm:"type:varchar(255)" json:"remark,omitempty"`

	// 创建时间
	CreatedAt time.Time `gorm:"index:idx_created_at" json:"created_at"`
}

// TableName 指定表名
func (StockLog) TableName() string {
	return "stock_logs"
}

// ChangeType 库存变更类型
type ChangeType string

const (
	ChangeTypeReserve ChangeType = "RESERVE" // 预留
	ChangeTypeRelease ChangeType = "RELEASE" // 释放预留
	ChangeTypeCommit  ChangeType = "COMMIT"  // 预留转扣减
	ChangeTypeExpire  ChangeType = "EXPIRE"  // 预留过期回收
	ChangeTypeAdjust  ChangeType = "ADJUST"  // 人工/批量调整
	ChangeTypeRetire  ChangeType = "RETIRE"  // 商品下架清零
)

// NewLog 根据变更前后的记录快照生成一条流水
func NewLog(changeType ChangeType, before, after *StockRecord, reference, remark string) *StockLog {
	return &StockLog{
		ProductID:      after.ProductID,
		ChangeType:     changeType,
		Delta:          after.Quantity - before.Quantity,
		BeforeQuantity: before.Quantity,
		AfterQuantity:  after.Quantity,
		BeforeReserved: before.ReservedQuantity,
		AfterReserved:  after.ReservedQuantity,
		Reference:      reference,
		Remark:         remark,
	}
}
