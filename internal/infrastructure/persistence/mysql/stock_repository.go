package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fengze/stockcore/internal/domain/stock"
)

// stockRepository MySQL库存仓储实现
//
// 教学要点：
// 1. 乐观并发控制（对比悲观锁）
//   - 悲观锁：SELECT FOR UPDATE，持锁期间其他事务等待
//   - 乐观锁：UPDATE ... WHERE version = ?，RowsAffected为0即冲突
//   - 本实现选乐观锁：不持行锁、冲突由引擎重读重试，
//     竞争只发生在同一商品的记录上
//
// 2. DO vs DON'T
//     ✅ DO：版本条件更新 + 冲突重试
//     ❌ DON'T：读后直接Save（并发写入者互相覆盖）
type stockRepository struct {
	db *gorm.DB
}

// NewStockRepository 创建库存仓储实例
func NewStockRepository(db *gorm.DB) stock.Repository {
	return &stockRepository{db: db}
}

// GetByProductID 根据商品ID获取库存记录
func (r *stockRepository) GetByProductID(ctx context.Context, productID string) (*stock.StockRecord, error) {
	var rec stock.StockRecord

	if err := r.db.WithContext(ctx).Where("product_id = ?", productID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, stock.ErrProductNotFound
		}
		return nil, fmt.Errorf("查询库存失败: %w", err)
	}

	return &rec, nil
}

// BatchGetByProductIDs 批量获取库存记录
func (r *stockRepository) BatchGetByProductIDs(ctx context.Context, productIDs []string) (map[string]*stock.StockRecord, error) {
	if len(productIDs) == 0 {
		return make(map[string]*stock.StockRecord), nil
	}

	var recs []*stock.StockRecord
	if err := r.db.WithContext(ctx).Where("product_id IN ?", productIDs).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("批量查询库存失败: %w", err)
	}

	result := make(map[string]*stock.StockRecord, len(recs))
	for _, rec := range recs {
		result[rec.ProductID] = rec
	}

	return result, nil
}

// Create 创建库存记录
func (r *stockRepository) Create(ctx context.Context, rec *stock.StockRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return stock.ErrProductExists
		}
		return fmt.Errorf("创建库存失败: %w", err)
	}

	return nil
}

// CompareAndApply 版本比对后应用变更
//
// 完整流程：
//   - 读取当前记录，版本不等于expectedVersion直接返回冲突
//   - apply在副本上执行并校验不变式（失败即原子no-op）
//   - 版本条件UPDATE写回，RowsAffected为0说明读后有人抢先 → 冲突
func (r *stockRepository) CompareAndApply(ctx context.Context, productID string, expectedVersion int64, apply func(*stock.StockRecord) error) (*stock.StockRecord, error) {
	rec, err := r.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if rec.Version != expectedVersion {
		return nil, stock.ErrVersionConflict
	}

	next := rec.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).Model(&stock.StockRecord{}).
		Where("product_id = ? AND version = ?", productID, expectedVersion).
		Updates(map[string]interface{}{
			"quantity":          next.Quantity,
			"reserved_quantity": next.ReservedQuantity,
			"min_stock_level":   next.MinStockLevel,
			"version":           next.Version,
			"updated_at":        next.UpdatedAt,
		})

	if err := result.Error; err != nil {
		return nil, fmt.Errorf("更新库存失败: %w", err)
	}

	if result.RowsAffected == 0 {
		return nil, stock.ErrVersionConflict
	}

	return next, nil
}
