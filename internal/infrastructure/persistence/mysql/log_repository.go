package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/fengze/stockcore/internal/domain/stock"
)

// logRepository MySQL库存流水实现（Append-Only）
type logRepository struct {
	db *gorm.DB
}

// NewLogRepository 创建库存流水实例
func NewLogRepository(db *gorm.DB) stock.LogRepository {
	return &logRepository{db: db}
}

// Create 追加一条流水
func (r *logRepository) Create(ctx context.Context, entry *stock.StockLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("写入库存流水失败: %w", err)
	}
	return nil
}

// ListByProductID 查询指定商品的流水（新到旧）
func (r *logRepository) ListByProductID(ctx context.Context, productID string, limit int) ([]*stock.StockLog, error) {
	var entries []*stock.StockLog

	query := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询库存流水失败: %w", err)
	}

	return entries, nil
}

// ListByReference 查询指定业务单据关联的流水
func (r *logRepository) ListByReference(ctx context.Context, reference string) ([]*stock.StockLog, error) {
	var entries []*stock.StockLog

	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("查询库存流水失败: %w", err)
	}

	return entries, nil
}
