package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityStore Redis可售库存读缓存
//
// 教学要点：
// 1. 双存储架构中的定位
//   - MySQL（乐观锁）：唯一的写权威，保证原子性与持久化
//   - Redis：读路径加速（商品详情页的"剩余N件"），写穿透维护
//
// 2. 与教科书式"Redis扣库存"的区别
//   - 这里Redis不参与扣减决策，只是可售量的影子副本
//   - 缓存写失败只降级为回源读，不会造成超卖
//
// 3. Key设计：available:{product_id}，带TTL兜底（缓存漂移自动过期）
type AvailabilityStore struct {
	client *redis.Client
	ttl    time.Duration
}

const availableKeyPrefix = "available:"

// NewAvailabilityStore 创建可售库存缓存
func NewAvailabilityStore(client *redis.Client, ttl time.Duration) *AvailabilityStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &AvailabilityStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *AvailabilityStore) key(productID string) string {
	return availableKeyPrefix + productID
}

// SetAvailable 写入可售量（库存变更后的写穿透）
func (s *AvailabilityStore) SetAvailable(ctx context.Context, productID string, available int64) error {
	if err := s.client.Set(ctx, s.key(productID), available, s.ttl).Err(); err != nil {
		return fmt.Errorf("写入可售库存缓存失败: %w", err)
	}
	return nil
}

// GetAvailable 读取可售量，第二个返回值表示是否命中
func (s *AvailabilityStore) GetAvailable(ctx context.Context, productID string) (int64, bool, error) {
	val, err := s.client.Get(ctx, s.key(productID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("读取可售库存缓存失败: %w", err)
	}

	available, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("解析可售库存失败: %w", err)
	}

	return available, true, nil
}

// BatchGetAvailable 批量读取（MGET），未命中的ID不出现在结果里
func (s *AvailabilityStore) BatchGetAvailable(ctx context.Context, productIDs []string) (map[string]int64, error) {
	if len(productIDs) == 0 {
		return make(map[string]int64), nil
	}

	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, s.key(id))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("批量读取可售库存缓存失败: %w", err)
	}

	result := make(map[string]int64, len(productIDs))
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue // 未命中
		}
		available, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		result[productIDs[i]] = available
	}

	return result, nil
}

// Invalidate 删除缓存（下架等场景）
func (s *AvailabilityStore) Invalidate(ctx context.Context, productID string) error {
	if err := s.client.Del(ctx, s.key(productID)).Err(); err != nil {
		return fmt.Errorf("删除可售库存缓存失败: %w", err)
	}
	return nil
}
