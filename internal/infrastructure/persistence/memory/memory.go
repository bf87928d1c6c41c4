// Package memory 提供库存与预留仓储的内存实现
//
// 教学要点：
// 1. 用途
//   - 单元测试：不依赖MySQL即可验证引擎语义（包括真实并发）
//   - 嵌入式场景：单进程内直接使用引擎
//
// 2. CAS语义必须与MySQL实现完全一致
//   - 版本不匹配返回ErrVersionConflict
//   - apply在副本上执行，失败时不落任何变更
//
// 3. 预留账本维护按商品聚合的ACTIVE占用索引，
//    SumActiveHeld为O(1)查询
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fengze/stockcore/internal/domain/reservation"
	"github.com/fengze/stockcore/internal/domain/stock"
)

// StockRepository 内存库存仓储
type StockRepository struct {
	mu      sync.Mutex
	records map[string]*stock.StockRecord
}

// NewStockRepository 创建内存库存仓储
func NewStockRepository() *StockRepository {
	return &StockRepository{
		records: make(map[string]*stock.StockRecord),
	}
}

// GetByProductID 查询库存记录（返回副本，防止外部越过CAS直接改）
func (r *StockRepository) GetByProductID(ctx context.Context, productID string) (*stock.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return nil, stock.ErrProductNotFound
	}
	return rec.Clone(), nil
}

// BatchGetByProductIDs 批量查询（不存在的ID静默跳过，与MySQL实现一致）
func (r *StockRepository) BatchGetByProductIDs(ctx context.Context, productIDs []string) (map[string]*stock.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]*stock.StockRecord, len(productIDs))
	for _, id := range productIDs {
		if rec, ok := r.records[id]; ok {
			result[id] = rec.Clone()
		}
	}
	return result, nil
}

// Create 创建库存记录
func (r *StockRepository) Create(ctx context.Context, rec *stock.StockRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ProductID]; ok {
		return stock.ErrProductExists
	}

	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.records[rec.ProductID] = rec.Clone()

	return nil
}

// CompareAndApply 版本比对后应用变更
func (r *StockRepository) CompareAndApply(ctx context.Context, productID string, expectedVersion int64, apply func(*stock.StockRecord) error) (*stock.StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return nil, stock.ErrProductNotFound
	}

	if rec.Version != expectedVersion {
		return nil, stock.ErrVersionConflict
	}

	// 在副本上执行，apply失败时原记录保持不变
	next := rec.Clone()
	if err := apply(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()
	r.records[productID] = next

	return next.Clone(), nil
}

// ReservationRepository 内存预留账本
type ReservationRepository struct {
	mu           sync.Mutex
	reservations map[string]*reservation.Reservation

	// activeHeld 按商品聚合的ACTIVE占用索引（派生数据，O(1)对账）
	activeHeld map[string]int64
}

// NewReservationRepository 创建内存预留账本
func NewReservationRepository() *ReservationRepository {
	return &ReservationRepository{
		reservations: make(map[string]*reservation.Reservation),
		activeHeld:   make(map[string]int64),
	}
}

// Create 写入新预留
func (r *ReservationRepository) Create(ctx context.Context, res *reservation.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *res
	r.reservations[res.ID] = &clone

	if res.State == reservation.StateActive {
		r.activeHeld[res.ProductID] += res.QuantityHeld
	}

	return nil
}

// GetByID 查询预留
func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return nil, reservation.ErrReservationNotFound
	}

	clone := *res
	return &clone, nil
}

// Transition 原子推进状态
func (r *ReservationRepository) Transition(ctx context.Context, id string, from, to reservation.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return reservation.ErrReservationNotFound
	}

	if res.State != from {
		return reservation.ErrAlreadyTerminal
	}

	if res.State == reservation.StateActive && to != reservation.StateActive {
		r.activeHeld[res.ProductID] -= res.QuantityHeld
	}
	// 失败回滚会把终态重新推回ACTIVE，索引同步加回
	if res.State != reservation.StateActive && to == reservation.StateActive {
		r.activeHeld[res.ProductID] += res.QuantityHeld
	}

	res.State = to
	res.UpdatedAt = time.Now()

	return nil
}

// ListExpired 查询已过期的ACTIVE预留（按过期时间升序）
func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*reservation.Reservation
	for _, res := range r.reservations {
		if res.State == reservation.StateActive && res.IsExpired(now) {
			clone := *res
			expired = append(expired, &clone)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	return expired, nil
}

// SumActiveHeld 指定商品ACTIVE预留占用总量
func (r *ReservationRepository) SumActiveHeld(ctx context.Context, productID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeHeld[productID], nil
}

// PurgeTerminal 清除早于olderThan进入终态的预留
func (r *ReservationRepository) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for id, res := range r.reservations {
		if res.State != reservation.StateActive && res.UpdatedAt.Before(olderThan) {
			delete(r.reservations, id)
			purged++
		}
	}

	return purged, nil
}

// LogRepository 内存库存流水
type LogRepository struct {
	mu      sync.Mutex
	entries []*stock.StockLog
}

// NewLogRepository 创建内存库存流水
func NewLogRepository() *LogRepository {
	return &LogRepository{}
}

// Create 追加一条流水
func (r *LogRepository) Create(ctx context.Context, entry *stock.StockLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	clone.ID = uint(len(r.entries) + 1)
	clone.CreatedAt = time.Now()
	r.entries = append(r.entries, &clone)

	return nil
}

// ListByProductID 查询指定商品的流水（新到旧）
func (r *LogRepository) ListByProductID(ctx context.Context, productID string, limit int) ([]*stock.StockLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*stock.StockLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].ProductID != productID {
			continue
		}
		clone := *r.entries[i]
		result = append(result, &clone)
		if limit > 0 && len(result) >= limit {
			break
		}
	}

	return result, nil
}

// ListByReference 查询指定业务单据的流水
func (r *LogRepository) ListByReference(ctx context.Context, reference string) ([]*stock.StockLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*stock.StockLog
	for _, entry := range r.entries {
		if entry.Reference == reference {
			clone := *entry
			result = append(result, &clone)
		}
	}

	return result, nil
}
