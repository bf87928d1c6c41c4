package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fengze/stockcore/internal/domain/reservation"
)

// reservationRepository MySQL预留账本实现
//
// 教学要点：状态推进用条件更新（WHERE state = ?）实现CAS，
// commit与后台清扫赛跑时数据库保证只有一方的UPDATE生效
type reservationRepository struct {
	db *gorm.DB
}

// NewReservationRepository 创建预留账本实例
func NewReservationRepository(db *gorm.DB) reservation.Repository {
	return &reservationRepository{db: db}
}

// Create 写入新预留
func (r *reservationRepository) Create(ctx context.Context, res *reservation.Reservation) error {
	if err := r.db.WithContext(ctx).Create(res).Error; err != nil {
		return fmt.Errorf("创建预留失败: %w", err)
	}
	return nil
}

// GetByID 根据预留ID查询
func (r *reservationRepository) GetByID(ctx context.Context, id string) (*reservation.Reservation, error) {
	var res reservation.Reservation

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("查询预留失败: %w", err)
	}

	return &res, nil
}

// Transition 原子推进状态（state==from时置为to）
func (r *reservationRepository) Transition(ctx context.Context, id string, from, to reservation.State) error {
	result := r.db.WithContext(ctx).Model(&reservation.Reservation{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{
			"state":      to,
			"updated_at": time.Now(),
		})

	if err := result.Error; err != nil {
		return fmt.Errorf("推进预留状态失败: %w", err)
	}

	if result.RowsAffected == 0 {
		// 区分"不存在"与"状态已被抢先推进"
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return reservation.ErrAlreadyTerminal
	}

	return nil
}

// ListExpired 查询已过期但仍为ACTIVE的预留
func (r *reservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*reservation.Reservation, error) {
	var expired []*reservation.Reservation

	query := r.db.WithContext(ctx).
		Where("state = ? AND expires_at <= ?", reservation.StateActive, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&expired).Error; err != nil {
		return nil, fmt.Errorf("查询过期预留失败: %w", err)
	}

	return expired, nil
}

// SumActiveHeld 统计指定商品ACTIVE预留占用总量
func (r *reservationRepository) SumActiveHeld(ctx context.Context, productID string) (int64, error) {
	var total int64

	err := r.db.WithContext(ctx).Model(&reservation.Reservation{}).
		Where("product_id = ? AND state = ?", productID, reservation.StateActive).
		Select("COALESCE(SUM(quantity_held), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("统计预留占用失败: %w", err)
	}

	return total, nil
}

// PurgeTerminal 清除超过保留期的终态预留
func (r *reservationRepository) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("state <> ? AND updated_at < ?", reservation.StateActive, olderThan).
		Delete(&reservation.Reservation{})

	if err := result.Error; err != nil {
		return 0, fmt.Errorf("清除终态预留失败: %w", err)
	}

	return result.RowsAffected, nil
}
