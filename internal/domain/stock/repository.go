package stock

import "context"

// Repository 库存仓储接口（领域层定义）
//
// 教学要点：
// 1. 依赖倒置原则（高层定义接口，低层实现）
//   - 引擎只依赖本接口，不关心MySQL还是内存实现
//   - 便于单元测试（内存实现）
//
// 2. CompareAndApply是唯一的变更入口
//   - 所有写路径都走"版本比对 + 应用变更函数"
//   - 比对失败返回ErrVersionConflict，由引擎重读重试
//   - 竞争被限定在单个商品的记录上，不同商品互不阻塞
type Repository interface {
	// GetByProductID 根据商品ID获取库存记录
	GetByProductID(ctx context.Context, productID string) (*StockRecord, error)

	// BatchGetByProductIDs 批量获取库存记录
	BatchGetByProductIDs(ctx context.Context, productIDs []string) (map[string]*StockRecord, error)

	// Create 创建库存记录（商品首次入库）
	Create(ctx context.Context, rec *StockRecord) error

	// CompareAndApply 版本比对后应用变更
	//
	// 语义：
	//   - 读取当前记录，版本不等于expectedVersion时返回ErrVersionConflict
	//   - apply在副本上执行，返回错误时不落任何变更（原子no-op）
	//   - apply成功后校验不变式、版本+1并持久化
	//   - 返回变更后的记录
	CompareAndApply(ctx context.Context, productID string, expectedVersion int64, apply func(*StockRecord) error) (*StockRecord, error)
}

// LogRepository 库存流水仓储接口
type LogRepository interface {
	// Create 追加一条流水
	Create(ctx context.Context, entry *StockLog) error

	// ListByProductID 查询指定商品的流水
	ListByProductID(ctx context.Context, productID string, limit int) ([]*StockLog, error)

	// ListByReference 查询指定业务单据（如预留ID）关联的流水
	ListByReference(ctx context.Context, reference string) ([]*StockLog, error)
}
